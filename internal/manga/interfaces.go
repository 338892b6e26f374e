package manga

import (
	"context"
	"time"
)

// PageFetcher renders pages in a browser session.
type PageFetcher interface {
	Load(ctx context.Context, rawURL string, opts LoadOptions) (PageHandle, error)
}

// PageHandle is a rendered page. Close must be called on every exit path.
type PageHandle interface {
	// URL returns the final URL of the page.
	URL() string
	// HTML returns the serialized DOM captured after loading.
	HTML() string
	// Captured returns image bytes observed by response interception.
	Captured(rawURL string) ([]byte, bool)
	// FetchBytes downloads rawURL directly, in the context of the page.
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
	Close() error
}

// ImageCodec decodes image dimensions and re-encodes pages for archiving.
type ImageCodec interface {
	Decode(data []byte) (width, height int, err error)
	Reencode(data []byte) ([]byte, error)
	// Ext is the file extension (without dot) produced by Reencode.
	Ext() string
}

// ArchiveStore answers whether a chapter has already been archived.
type ArchiveStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Record(ctx context.Context, rec ArchiveRecord) error
}

// FileWatcher invokes onChange whenever the watched file is created,
// modified or renamed. Close stops the watcher and waits for it to exit.
type FileWatcher interface {
	Start(path string, onChange func()) error
	Close() error
}

// Sleeper performs the fixed waits of the pipeline. It returns early with the
// context error when ctx is canceled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, reason string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes archive digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
