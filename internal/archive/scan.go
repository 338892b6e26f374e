package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/mangashelf/internal/chapter"
)

// Entry describes one archive found under the save root.
type Entry struct {
	Source     string
	Title      string
	ChapterKey string
	Number     string
	Pages      int
	Bytes      int64
	Path       string
}

// Scan lists every archive under saveRoot, ordered by source then chapter key.
// A missing save root yields no entries.
func Scan(saveRoot string) ([]Entry, error) {
	sources, err := os.ReadDir(saveRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read save root %s: %w", saveRoot, err)
	}

	var entries []Entry
	for _, src := range sources {
		if !src.IsDir() {
			continue
		}
		dir := filepath.Join(saveRoot, src.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read source dir %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			title, key, ok := ParseName(f.Name())
			if !ok {
				continue
			}
			path := filepath.Join(dir, f.Name())
			pages, size, err := inspect(path)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{
				Source:     src.Name(),
				Title:      title,
				ChapterKey: key,
				Number:     chapter.DisplayNumber(key),
				Pages:      pages,
				Bytes:      size,
				Path:       path,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Source != entries[j].Source {
			return entries[i].Source < entries[j].Source
		}
		return entries[i].ChapterKey < entries[j].ChapterKey
	})
	return entries, nil
}

func inspect(path string) (int, int64, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close() //nolint:errcheck // read-only handle

	pages := 0
	for _, f := range r.File {
		if strings.Contains(f.Name, "_page_") {
			pages++
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat archive %s: %w", path, err)
	}
	return pages, info.Size(), nil
}
