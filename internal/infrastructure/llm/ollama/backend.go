// Package ollama implements the Ollama /api/generate backend. The
// server streams JSON lines; the adapter accumulates the response
// field until the line carrying "done":true.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
)

const defaultBaseURL = "http://localhost:11434"

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.Config) (llm.Backend, error) {
		base := cfg.BaseURL
		if base == "" {
			base = os.Getenv("OLLAMA_BASE_URL")
		}
		if base == "" {
			base = defaultBaseURL
		}
		return &Backend{
			name:    cfg.BackendID,
			baseURL: strings.TrimRight(base, "/"),
			client: &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        10,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     90 * time.Second,
				},
			},
			logger: cfg.Logger.With(zap.String("component", "backend"), zap.String("backend", cfg.BackendID)),
		}, nil
	})
}

// Backend talks to one Ollama server.
type Backend struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Backend = (*Backend)(nil)

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error"`
}

// Generate posts a generation and drains the stream until done.
func (b *Backend) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	started := time.Now()

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	body, err := json.Marshal(generateRequest{
		Model:   req.ModelName,
		Prompt:  req.Prompt,
		System:  req.SystemPrompt,
		Options: options,
	})
	if err != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailBadRequest, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailBadRequest, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, llm.StatusError(b.name, resp.StatusCode, raw)
	}

	var text strings.Builder
	tokens := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailServerError, Message: "decode stream line", Err: err}
		}
		if chunk.Error != "" {
			return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailServerError, Message: chunk.Error}
		}
		text.WriteString(chunk.Response)
		if chunk.Done {
			tokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, llm.TransportError(b.name, err)
	}

	return &llm.GenerateResult{
		Text:      text.String(),
		Tokens:    tokens,
		ElapsedMs: time.Since(started).Milliseconds(),
	}, nil
}

// IsAvailable probes the tags endpoint.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
