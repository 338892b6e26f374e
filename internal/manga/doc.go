// Package manga defines the core types and interfaces shared by the archiving
// pipeline: source metadata, chapter references, candidate page images and the
// capabilities (page fetching, image codecs, archive stores) the pipeline consumes.
package manga
