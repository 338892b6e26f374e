package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

// Ext is the archive file extension.
const Ext = "cbz"

var (
	numericName = regexp.MustCompile(`^chapter_(\d+_\d)_(.+)\.` + Ext + `$`)
	genericName = regexp.MustCompile(`^chapter_([^_]+)_(.+)\.` + Ext + `$`)
)

// SafeTitle makes a title usable inside a file name.
func SafeTitle(title string) string {
	return strings.NewReplacer(" ", "_", "/", "-").Replace(title)
}

// DirName is the per-source directory name for a title. Titles that would
// not name a child of the save root fall back to manga.Unknown.
func DirName(title string) string {
	name := strings.ReplaceAll(title, "/", "-")
	switch strings.TrimSpace(name) {
	case "", ".", "..":
		return manga.Unknown
	}
	return name
}

// FileName returns "chapter_{key}_{safeTitle}.cbz".
func FileName(title, chapterKey string) string {
	return fmt.Sprintf("chapter_%s_%s.%s", chapterKey, SafeTitle(title), Ext)
}

// Path returns the deterministic archive location for a chapter.
func Path(saveRoot, title, chapterKey string) string {
	return filepath.Join(saveRoot, DirName(title), FileName(title, chapterKey))
}

// ParseName recovers the title and chapter key from an archive file name.
// Underscores in the title are read back as spaces and hyphens as slashes,
// so a title that really contained a hyphen comes back with a slash.
func ParseName(name string) (title, chapterKey string, ok bool) {
	name = filepath.Base(name)
	m := numericName.FindStringSubmatch(name)
	if m == nil {
		m = genericName.FindStringSubmatch(name)
	}
	if m == nil {
		return "", "", false
	}
	return strings.NewReplacer("_", " ", "-", "/").Replace(m[2]), m[1], true
}

func pageName(stem string, index int, ext string) string {
	return fmt.Sprintf("%s_page_%04d.%s", stem, index, ext)
}
