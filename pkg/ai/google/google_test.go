package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *GeminiModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewGeminiModel(context.Background(), NewGeminiModelParams{Model: "gemini-test", BaseURL: srv.URL, ApiKey: "key"})
	if err != nil {
		t.Fatalf("NewGeminiModel() error = %v", err)
	}
	return m
}

func content(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     11,
			"candidatesTokenCount": 4,
			"totalTokenCount":      15,
		},
	})
	return string(body)
}

func TestGenerateText(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, content("heat pumps"))
	})

	got, err := m.GenerateText(context.Background(), "hello", ai.WithSystemPrompts("sys"), ai.WithMaxTokens(100))
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if got != "heat pumps" {
		t.Fatalf("expected text, got %q", got)
	}
	if m.GetMetrics().TotalTokens != 15 {
		t.Fatalf("expected 15 tokens, got %+v", m.GetMetrics())
	}
}

type title struct {
	Title string `json:"title"`
}

func TestGenerateStructuredJSONMode(t *testing.T) {
	var req map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, content(`{"title": "Costs"}`))
	})

	var out title
	if err := m.GenerateStructured(context.Background(), "title", "", "prompt", &out); err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if out.Title != "Costs" {
		t.Fatalf("expected Costs, got %q", out.Title)
	}
	cfg, _ := req["generationConfig"].(map[string]any)
	if cfg["responseMimeType"] != "application/json" {
		t.Fatalf("expected json mime type, got %v", req["generationConfig"])
	}
}
