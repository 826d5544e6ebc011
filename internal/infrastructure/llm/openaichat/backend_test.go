package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
)

func TestGenerateWireShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("message roles = %s,%s", req.Messages[0].Role, req.Messages[1].Role)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "hi there"}}},
			"usage":   map[string]int{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	b := newBackend("test", srv.URL, "test-key", zap.NewNop())
	res, err := b.Generate(context.Background(), llm.GenerateRequest{
		ModelName: "gpt-test", Prompt: "hello", SystemPrompt: "be nice", MaxTokens: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hi there" || res.Tokens != 42 {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   llm.FailureKind
	}{
		{http.StatusUnauthorized, llm.FailAuth},
		{http.StatusBadRequest, llm.FailBadRequest},
		{http.StatusInternalServerError, llm.FailServerError},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		b := newBackend("test", srv.URL, "", zap.NewNop())
		_, err := b.Generate(context.Background(), llm.GenerateRequest{ModelName: "m", Prompt: "p"})
		srv.Close()

		var be *llm.BackendError
		if !errors.As(err, &be) || be.Kind != tt.want {
			t.Errorf("status %d: err = %v, want kind %s", tt.status, err, tt.want)
		}
	}
}

func TestIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	b := newBackend("test", srv.URL, "", zap.NewNop())
	if !b.IsAvailable(context.Background()) {
		t.Error("expected available")
	}

	srv.Close()
	if b.IsAvailable(context.Background()) {
		t.Error("expected unavailable after server shutdown")
	}
}
