package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 0,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
	})
	return string(body)
}

func newTestModel(t *testing.T, handler http.HandlerFunc) *OpenAIModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewOpenAIModel(NewOpenAIModelParams{Model: "test-model", BaseURL: srv.URL, ApiKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIModel() error = %v", err)
	}
	return m
}

func TestGenerateText(t *testing.T) {
	var gotBody map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion("solar is cheap"))
	})

	got, err := m.GenerateText(context.Background(), "hello", ai.WithSystemPrompts("be brief"), ai.WithMaxTokens(64))
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if got != "solar is cheap" {
		t.Fatalf("expected content, got %q", got)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("expected model in request, got %v", gotBody["model"])
	}
	if msgs, ok := gotBody["messages"].([]any); !ok || len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", gotBody["messages"])
	}
	if metrics := m.GetMetrics(); metrics.TotalTokens != 16 || metrics.Requests != 1 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

type verdict struct {
	Satisfied bool   `json:"satisfied"`
	NextQuery string `json:"next_query"`
}

func TestGenerateStructured(t *testing.T) {
	var gotBody map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion(`{"satisfied": false, "next_query": "battery recycling"}`))
	})

	var out verdict
	if err := m.GenerateStructured(context.Background(), "reflection", "decision", "prompt", &out); err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if out.Satisfied || out.NextQuery != "battery recycling" {
		t.Fatalf("unexpected output %+v", out)
	}
	format, _ := gotBody["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", gotBody["response_format"])
	}
}

func TestGenerateStructuredInvalid(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion("I cannot answer that"))
	})

	var out verdict
	err := m.GenerateStructured(context.Background(), "reflection", "", "prompt", &out)
	var se *ai.StructuredOutputError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructuredOutputError, got %v", err)
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := m.GenerateText(context.Background(), "hello")
	if !caller.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNewOpenAIModelRequiresEndpoint(t *testing.T) {
	if _, err := NewOpenAIModel(NewOpenAIModelParams{Model: "x"}); err == nil {
		t.Fatal("expected error without api key and base url")
	}
}
