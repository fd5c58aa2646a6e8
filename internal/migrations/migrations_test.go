package migrations

import (
	"io"
	"strings"
	"testing"
)

func TestSourceVersions(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil || first != 1 {
		t.Fatalf("expected first version 1, got %d %v", first, err)
	}
	next, err := src.Next(first)
	if err != nil || next != 2 {
		t.Fatalf("expected next version 2, got %d %v", next, err)
	}

	tests := []struct {
		version uint
		table   string
	}{
		{1, "research_runs"},
		{2, "app_locks"},
	}
	for _, tt := range tests {
		up, _, err := src.ReadUp(tt.version)
		if err != nil {
			t.Fatalf("read up %d: %v", tt.version, err)
		}
		body, _ := io.ReadAll(up)
		up.Close()
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+tt.table) {
			t.Fatalf("expected migration %d to create %s", tt.version, tt.table)
		}

		down, _, err := src.ReadDown(tt.version)
		if err != nil {
			t.Fatalf("expected down migration for %d, got %v", tt.version, err)
		}
		down.Close()
	}
}
