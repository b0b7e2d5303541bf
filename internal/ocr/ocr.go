// Package ocr turns scanned document pages into raw text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/llm/prompts"
	"github.com/pavelanni/sheetgrader/internal/model"
)

// ErrUnsupported is returned for files that are neither text nor images.
var ErrUnsupported = errors.New("unsupported document type")

// Page is one page of a document.
type Page struct {
	Path  string
	Kind  prompts.Kind
	Num   int // 1-based
	Total int
}

// Engine recognizes the text of one scanned image.
type Engine interface {
	Recognize(ctx context.Context, p Page) (string, error)
}

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// IsSupported reports whether the file extension can be extracted.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, img := imageExts[ext]
	return img || ext == ".txt" || ext == ".md"
}

// Extractor dispatches pages to the right reader by file extension.
type Extractor struct {
	engine Engine
}

// New creates an Extractor. engine handles images and may be nil when only
// text files are expected.
func New(engine Engine) *Extractor {
	return &Extractor{engine: engine}
}

// ExtractText returns the raw text of one page.
func (e *Extractor) ExtractText(ctx context.Context, p Page) (string, error) {
	ext := strings.ToLower(filepath.Ext(p.Path))
	switch {
	case ext == ".txt" || ext == ".md":
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return "", fmt.Errorf("read text page: %w", err)
		}
		return string(data), nil
	case imageExts[ext] != "":
		if e.engine == nil {
			return "", fmt.Errorf("no OCR engine configured for %s", filepath.Base(p.Path))
		}
		text, err := e.engine.Recognize(ctx, p)
		if err != nil {
			return "", fmt.Errorf("recognize %s: %w", filepath.Base(p.Path), err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(p.Path))
	}
}

// Document extracts every page of one document and joins them with the page
// break marker. Pages that fail are logged and contribute no text. The only
// error returned is the context's.
func (e *Extractor) Document(ctx context.Context, kind prompts.Kind, paths []string) (string, error) {
	pages := make([]string, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.ExtractText(ctx, Page{Path: path, Kind: kind, Num: i + 1, Total: len(paths)})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			slog.Warn("page extraction failed", "kind", kind, "page", i+1, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			slog.Warn("page produced no text", "kind", kind, "page", i+1)
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"+model.PageBreak+"\n"), nil
}
