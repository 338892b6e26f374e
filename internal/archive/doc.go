// Package archive assembles per-chapter CBZ archives (page images plus a
// ComicInfo.xml record), names them deterministically and reads back the
// archived collection. The presence of an archive at its deterministic path is
// the persisted "already downloaded" state.
package archive
