package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"text/template"
)

// Templates holds the built-in transcription prompts.
//
//go:embed templates/*.txt
var Templates embed.FS

// Kind selects the transcription prompt for a document type.
type Kind string

const (
	// KindQuestionPaper is a printed question paper with a marks table.
	KindQuestionPaper Kind = "question_paper"
	// KindAnswerSheet is a handwritten answer booklet (model or student).
	KindAnswerSheet Kind = "answer_sheet"
)

var validKinds = map[Kind]bool{
	KindQuestionPaper: true,
	KindAnswerSheet:   true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// IsValidKind checks if a prompt kind name is valid.
func IsValidKind(k string) bool {
	return validKinds[Kind(k)]
}

// PageData holds template data for transcription prompts.
type PageData struct {
	Page  int
	Pages int
}

// Load parses the prompt templates from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Kind]*template.Template)
		for k := range validKinds {
			name := "templates/transcribe_" + string(k) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(k)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
				return
			}
			templates[k] = tmpl
		}
	})
	return loadErr
}

// Build renders the transcription prompt for one page of a document.
func Build(kind Kind, data PageData) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[kind]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt kind: " + string(kind))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
