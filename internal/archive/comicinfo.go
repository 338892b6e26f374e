package archive

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/JakeFAU/mangashelf/internal/chapter"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

// ComicInfoName is the metadata entry name inside an archive.
const ComicInfoName = "ComicInfo.xml"

// ComicInfo is the metadata record embedded in every archive.
type ComicInfo struct {
	XMLName xml.Name `xml:"ComicInfo"`
	Title   string   `xml:"Title"`
	Series  string   `xml:"Series"`
	Number  string   `xml:"Number"`
	Writer  string   `xml:"Writer"`
	Summary string   `xml:"Summary"`
	Web     string   `xml:"Web"`
	Genre   string   `xml:"Genre"`
}

// NewComicInfo binds source metadata and a chapter key to a ComicInfo record.
func NewComicInfo(meta manga.SourceMetadata, chapterKey string) ComicInfo {
	return ComicInfo{
		Title:   meta.Title,
		Series:  meta.Title,
		Number:  chapter.DisplayNumber(chapterKey),
		Writer:  meta.Author,
		Summary: "Downloaded from " + meta.URL,
		Web:     meta.URL,
		Genre:   strings.Join(meta.Genres, ", "),
	}
}

// Marshal renders the record as an indented XML document.
func (c ComicInfo) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(c, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal comic info: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	return append(out, '\n'), nil
}
