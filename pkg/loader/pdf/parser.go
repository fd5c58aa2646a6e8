package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
)

// ErrNoText is returned for PDFs without a text layer.
var ErrNoText = errors.New("pdf contains no extractable text")

// DefaultTimeout bounds a single pdftotext run.
const DefaultTimeout = 30 * time.Second

// Extract converts PDF bytes to plain text using pdftotext from poppler-utils.
func Extract(ctx context.Context, input []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(input[:min(len(input), 1024)]), []byte("%PDF")) {
		return "", fmt.Errorf("input is not a pdf document")
	}

	tmpDir, err := os.MkdirTemp("", "pdfextract-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, input, 0o600); err != nil {
		return "", fmt.Errorf("failed to write temp PDF: %w", err)
	}

	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(
		ctx,
		"pdftotext",
		"-enc", "UTF-8",
		"-eol", "unix",
		"-nopgbrk",
		"-q",
		pdfPath,
		"-",
	)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("pdftotext timed out")
	}
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	text := loader.NormalizeText(string(out))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
