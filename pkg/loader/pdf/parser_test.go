package pdf

import (
	"context"
	"os/exec"
	"testing"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	if _, err := Extract(context.Background(), []byte("<html>not a pdf</html>")); err == nil {
		t.Fatal("expected error for non pdf input")
	}
}

func TestExtractEmptyInput(t *testing.T) {
	if _, err := Extract(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestExtractBrokenPDF(t *testing.T) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext not installed")
	}
	if _, err := Extract(context.Background(), []byte("%PDF-1.4\ngarbage")); err == nil {
		t.Fatal("expected error for broken pdf")
	}
}
