package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/sheetgrader/internal/llm/prompts"
	"github.com/pavelanni/sheetgrader/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

type fakeEngine struct {
	pages []Page
	fail  map[string]bool
}

func (f *fakeEngine) Recognize(_ context.Context, p Page) (string, error) {
	f.pages = append(f.pages, p)
	if f.fail[filepath.Base(p.Path)] {
		return "", errors.New("blurry")
	}
	return "text of " + filepath.Base(p.Path), nil
}

func TestExtractText(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "answers.txt", "1. Photosynthesis")
	img := writeFile(t, dir, "page.PNG", "not really a png")
	other := writeFile(t, dir, "paper.docx", "")

	e := New(&fakeEngine{})
	ctx := context.Background()

	if got, err := e.ExtractText(ctx, Page{Path: txt}); err != nil || got != "1. Photosynthesis" {
		t.Errorf("text page = %q, %v", got, err)
	}
	if got, err := e.ExtractText(ctx, Page{Path: img}); err != nil || got != "text of page.PNG" {
		t.Errorf("image page = %q, %v", got, err)
	}
	if _, err := e.ExtractText(ctx, Page{Path: other}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("docx err = %v, want ErrUnsupported", err)
	}
	if _, err := New(nil).ExtractText(ctx, Page{Path: img}); err == nil {
		t.Error("image without an engine should fail")
	}
}

func TestDocumentJoinsPages(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "p1.jpg", ""),
		writeFile(t, dir, "p2.jpg", ""),
		writeFile(t, dir, "p3.txt", "   "),
		writeFile(t, dir, "p4.jpg", ""),
	}
	eng := &fakeEngine{fail: map[string]bool{"p2.jpg": true}}

	got, err := New(eng).Document(context.Background(), prompts.KindAnswerSheet, paths)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	want := "text of p1.jpg\n" + model.PageBreak + "\ntext of p4.jpg"
	if got != want {
		t.Errorf("Document() = %q, want %q", got, want)
	}
	if len(eng.pages) != 3 || eng.pages[2].Num != 4 || eng.pages[2].Total != 4 || eng.pages[0].Kind != prompts.KindAnswerSheet {
		t.Errorf("engine saw pages %+v", eng.pages)
	}
}

func TestDocumentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(&fakeEngine{}).Document(ctx, prompts.KindAnswerSheet, []string{"a.png"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDocumentEmpty(t *testing.T) {
	got, err := New(nil).Document(context.Background(), prompts.KindQuestionPaper, nil)
	if err != nil || got != "" {
		t.Errorf("Document(nil) = %q, %v", got, err)
	}
}

type fakeTranscriber struct {
	mime, prompt string
}

func (f *fakeTranscriber) TranscribeImage(_ context.Context, _ []byte, mime, prompt string) (string, error) {
	f.mime, f.prompt = mime, prompt
	return "1. Answer", nil
}

func TestVision(t *testing.T) {
	img := writeFile(t, t.TempDir(), "scan.jpeg", "jpeg bytes")
	tr := &fakeTranscriber{}
	v, err := NewVision(tr)
	if err != nil {
		t.Fatalf("NewVision: %v", err)
	}
	got, err := v.Recognize(context.Background(), Page{Path: img, Kind: prompts.KindQuestionPaper, Num: 2, Total: 3})
	if err != nil || got != "1. Answer" {
		t.Fatalf("Recognize = %q, %v", got, err)
	}
	if tr.mime != "image/jpeg" {
		t.Errorf("mime = %q", tr.mime)
	}
	if !strings.Contains(tr.prompt, "page 2 of 3 of a printed exam question paper") {
		t.Errorf("prompt = %q", tr.prompt)
	}
}

func TestTesseract(t *testing.T) {
	tess := NewTesseract()
	if !tess.Available() {
		t.Skip("tesseract not installed")
	}
	if _, err := tess.Recognize(context.Background(), Page{Path: filepath.Join(t.TempDir(), "missing.png")}); err == nil {
		t.Error("missing image should fail")
	}
}

func TestIsSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.txt": true, "b.MD": true, "c.jpeg": true, "d.tiff": true, "e.pdf": false, "f": false,
	} {
		if got := IsSupported(path); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", path, got, want)
		}
	}
}
