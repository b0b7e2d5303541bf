package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Tesseract runs the tesseract CLI on each page.
type Tesseract struct {
	Lang    string
	Timeout time.Duration
}

// NewTesseract returns a Tesseract engine for English with a 60s page timeout.
func NewTesseract() *Tesseract {
	return &Tesseract{Lang: "eng", Timeout: 60 * time.Second}
}

// Available reports whether the tesseract binary is on PATH.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath("tesseract")
	return err == nil
}

func (t *Tesseract) Recognize(ctx context.Context, p Page) (string, error) {
	if !t.Available() {
		return "", errors.New("tesseract not found in PATH")
	}
	args := []string{p.Path, "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "tesseract", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
