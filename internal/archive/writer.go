package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/telemetry"
)

// Writer builds CBZ archives under a save root.
type Writer struct {
	saveRoot string
	codec    manga.ImageCodec
	hasher   manga.Hasher
	clock    manga.Clock
	logger   *zap.Logger
}

// NewWriter returns a Writer rooted at saveRoot.
func NewWriter(
	saveRoot string,
	codec manga.ImageCodec,
	hasher manga.Hasher,
	clock manga.Clock,
	logger *zap.Logger,
) (*Writer, error) {
	if strings.TrimSpace(saveRoot) == "" {
		return nil, errors.New("save root is required")
	}
	if codec == nil || hasher == nil || clock == nil {
		return nil, errors.New("archive writer requires codec, hasher, and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		saveRoot: saveRoot,
		codec:    codec,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Path returns the deterministic archive path for a title and chapter key.
func (w *Writer) Path(title, chapterKey string) string {
	return Path(w.saveRoot, title, chapterKey)
}

// Write replaces any archive at the chapter's path with a fresh one holding
// images (in order) and a ComicInfo.xml entry. Errors are returned unretried.
func (w *Writer) Write(
	ctx context.Context,
	meta manga.SourceMetadata,
	chapterKey string,
	images []manga.CandidateImage,
) (manga.ArchiveRecord, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "archive.Write", trace.WithAttributes(
		attribute.String("chapter_key", chapterKey),
	))
	rec, err := w.write(ctx, meta, chapterKey, images)
	span.SetAttributes(
		attribute.Int("pages", rec.Pages),
		attribute.Int64("bytes", rec.Bytes),
	)
	telemetry.End(span, err)
	return rec, err
}

func (w *Writer) write(
	ctx context.Context,
	meta manga.SourceMetadata,
	chapterKey string,
	images []manga.CandidateImage,
) (manga.ArchiveRecord, error) {
	target := w.Path(meta.Title, chapterKey)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return manga.ArchiveRecord{}, fmt.Errorf("create archive dir for %s: %w", target, err)
	}

	payload, err := w.build(ctx, meta, chapterKey, images)
	if err != nil {
		return manga.ArchiveRecord{}, err
	}

	if _, statErr := os.Stat(target); statErr == nil {
		w.logger.Info("archive exists, replacing", zap.String("path", target))
		if err := os.Remove(target); err != nil {
			return manga.ArchiveRecord{}, fmt.Errorf("remove existing archive %s: %w", target, err)
		}
	}

	tmp := target + ".part"
	// #nosec G306 -- archives are meant to be read by comic library servers.
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return manga.ArchiveRecord{}, fmt.Errorf("write archive %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return manga.ArchiveRecord{}, fmt.Errorf("finalize archive %s: %w", target, err)
	}

	digest, err := w.hasher.Hash(payload)
	if err != nil {
		return manga.ArchiveRecord{}, fmt.Errorf("hash archive: %w", err)
	}

	w.logger.Info("archive created",
		zap.String("path", target),
		zap.Int("pages", len(images)),
		zap.Int("bytes", len(payload)),
	)
	return manga.ArchiveRecord{
		Path:       target,
		SourceURL:  meta.URL,
		Title:      meta.Title,
		ChapterKey: chapterKey,
		Pages:      len(images),
		Digest:     digest,
		Bytes:      int64(len(payload)),
		WrittenAt:  w.clock.Now(),
	}, nil
}

func (w *Writer) build(
	ctx context.Context,
	meta manga.SourceMetadata,
	chapterKey string,
	images []manga.CandidateImage,
) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	stem := strings.TrimSuffix(FileName(meta.Title, chapterKey), "."+Ext)

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context canceled: %w", err)
		}
		page, err := w.codec.Reencode(img.Data)
		if err != nil {
			return nil, fmt.Errorf("reencode page %d (%s): %w", i+1, img.URL, err)
		}
		// Pages are already compressed; store them as-is.
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:   pageName(stem, i+1, w.codec.Ext()),
			Method: zip.Store,
		})
		if err != nil {
			return nil, fmt.Errorf("create page entry %d: %w", i+1, err)
		}
		if _, err := entry.Write(page); err != nil {
			return nil, fmt.Errorf("write page entry %d: %w", i+1, err)
		}
	}

	info, err := NewComicInfo(meta, chapterKey).Marshal()
	if err != nil {
		return nil, err
	}
	entry, err := zw.Create(ComicInfoName)
	if err != nil {
		return nil, fmt.Errorf("create %s entry: %w", ComicInfoName, err)
	}
	if _, err := entry.Write(info); err != nil {
		return nil, fmt.Errorf("write %s entry: %w", ComicInfoName, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
