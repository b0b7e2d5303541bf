package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/llm/prompts"
)

// Transcriber sends one page image to a vision model.
type Transcriber interface {
	TranscribeImage(ctx context.Context, image []byte, mime, prompt string) (string, error)
}

// Vision transcribes pages with a multimodal LLM.
type Vision struct {
	tr Transcriber
}

// NewVision loads the transcription prompts and returns a Vision engine.
func NewVision(tr Transcriber) (*Vision, error) {
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return &Vision{tr: tr}, nil
}

func (v *Vision) Recognize(ctx context.Context, p Page) (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	kind := p.Kind
	if kind == "" {
		kind = prompts.KindAnswerSheet
	}
	prompt, err := prompts.Build(kind, prompts.PageData{Page: max(p.Num, 1), Pages: max(p.Total, 1)})
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	mime := imageExts[strings.ToLower(filepath.Ext(p.Path))]
	if mime == "" {
		mime = "image/png"
	}
	return v.tr.TranscribeImage(ctx, data, mime, prompt)
}
