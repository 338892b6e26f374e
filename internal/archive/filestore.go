package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

// FileStore treats an archive's presence on disk as the record that it was
// downloaded.
type FileStore struct{}

// NewFileStore returns a FileStore.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Exists reports whether a regular file is present at path.
func (FileStore) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat archive %s: %w", path, err)
	}
}

// Record is a no-op; the archive file is the record.
func (FileStore) Record(context.Context, manga.ArchiveRecord) error {
	return nil
}
