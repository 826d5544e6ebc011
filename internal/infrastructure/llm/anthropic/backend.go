// Package anthropic implements the Anthropic /messages backend.
// ANTHROPIC_API_KEY must be set at construction.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.Config) (llm.Backend, error) {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is not set")
		}
		base := cfg.BaseURL
		if base == "" {
			base = defaultBaseURL
		}
		return &Backend{
			name:    cfg.BackendID,
			baseURL: strings.TrimRight(base, "/"),
			apiKey:  key,
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

// Backend talks to the Anthropic messages API.
type Backend struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Backend = (*Backend)(nil)

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate posts a messages call and concatenates the text blocks.
func (b *Backend) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	started := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(messagesRequest{
		Model:       req.ModelName,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailBadRequest, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailBadRequest, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(b.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.TransportError(b.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.StatusError(b.name, resp.StatusCode, raw)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailServerError, Message: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &llm.BackendError{Backend: b.name, Kind: llm.FailServerError, Message: parsed.Error.Message}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.GenerateResult{
		Text:      text.String(),
		Tokens:    parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		ElapsedMs: time.Since(started).Milliseconds(),
	}, nil
}

// IsAvailable is a cheap reachability check; a tiny invalid request
// that reaches the API at all means the transport is up.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
