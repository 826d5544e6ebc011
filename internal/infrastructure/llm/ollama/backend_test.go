package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
)

func testBackend(t *testing.T, baseURL string) *Backend {
	t.Helper()
	return &Backend{
		name:    "ollama-test",
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  zap.NewNop(),
	}
}

func TestGenerateAccumulatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "llama-test" || req.System != "be brief" {
			t.Errorf("request = %+v", req)
		}

		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `{"response":", world","done":false}`)
		fmt.Fprintln(w, `{"response":"!","done":true,"eval_count":7}`)
	}))
	defer srv.Close()

	b := testBackend(t, srv.URL)
	res, err := b.Generate(context.Background(), llm.GenerateRequest{
		ModelName: "llama-test", Prompt: "greet me", SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello, world!" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Tokens != 7 {
		t.Errorf("Tokens = %d, want 7", res.Tokens)
	}
}

func TestGenerateStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	b := testBackend(t, srv.URL)
	_, err := b.Generate(context.Background(), llm.GenerateRequest{ModelName: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	b := testBackend(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Generate(ctx, llm.GenerateRequest{ModelName: "m", Prompt: "p"})
	be, ok := err.(*llm.BackendError)
	if !ok || be.Kind != llm.FailTimeout {
		t.Errorf("err = %v, want TIMEOUT", err)
	}
}

func TestIsAvailableProbesTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if !testBackend(t, srv.URL).IsAvailable(context.Background()) {
		t.Error("expected available")
	}
}
