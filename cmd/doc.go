// Package cmd defines the mangashelf CLI.
//
// Architecture overview:
//   - Catalog: internal/catalog renders source and reader pages through a chromedp-backed
//     PageFetcher, parses the snapshot with goquery and returns chapter refs, metadata and the
//     content images that pass the size and origin filter.
//   - Processing: internal/processor walks one source oldest chapter first. Chapters already on
//     the shelf are skipped, empty chapters are retried with a backoff, and a source is abandoned
//     once its retry budget runs out. Archives are written by internal/archive as CBZ files with
//     a ComicInfo.xml entry.
//   - Sweeps: internal/batch runs every URL in the list file in order; internal/scheduler repeats
//     sweeps in self-service mode, waking early when the list file changes and refreshing a
//     heartbeat file while it waits.
//   - Plumbing: Viper loads config from file and MANGASHELF_* env vars; zap provides structured
//     logging; Prometheus metrics are served by the optional ops server with /healthz.
//
// Quick checklist:
//   - Archive one source: mangashelf --url https://site/manga/slug
//   - Archive the list file: mangashelf (paths.url_list_file, default urls.txt)
//   - Run unattended: mangashelf --self-service, with server.addr set for /healthz and /metrics.
//   - Inspect the shelf: mangashelf list
package cmd
