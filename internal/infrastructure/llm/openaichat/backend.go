// Package openaichat implements the OpenAI-compatible /chat/completions
// backend. It serves both local servers (LM Studio) and the OpenAI
// cloud API; the cloud variant requires OPENAI_API_KEY at construction.
package openaichat

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
	defaultLMStudioURL = "http://localhost:1234/v1"
	defaultOpenAIURL   = "https://api.openai.com/v1"
)

func init() {
	llm.RegisterFactory("lmstudio", func(cfg llm.Config) (llm.Backend, error) {
		base := cfg.BaseURL
		if base == "" {
			base = os.Getenv("LMSTUDIO_BASE_URL")
		}
		if base == "" {
			base = defaultLMStudioURL
		}
		return newBackend(cfg.BackendID, base, "", cfg.Logger), nil
	})

	llm.RegisterFactory("openai", func(cfg llm.Config) (llm.Backend, error) {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		base := cfg.BaseURL
		if base == "" {
			base = defaultOpenAIURL
		}
		return newBackend(cfg.BackendID, base, key, cfg.Logger), nil
	})
}

// Backend talks to one /chat/completions server.
type Backend struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Backend = (*Backend)(nil)

func newBackend(name, baseURL, apiKey string, logger *zap.Logger) *Backend {
	return &Backend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With(zap.String("component", "backend"), zap.String("backend", name)),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate posts a chat completion and returns the first choice.
func (b *Backend) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	started := time.Now()

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.ModelName,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, b.fail(llm.FailBadRequest, 0, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, b.fail(llm.FailBadRequest, 0, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

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

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, b.fail(llm.FailServerError, resp.StatusCode, "decode response", err)
	}
	if parsed.Error != nil {
		return nil, b.fail(llm.FailServerError, resp.StatusCode, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, b.fail(llm.FailServerError, resp.StatusCode, "empty choices", nil)
	}

	return &llm.GenerateResult{
		Text:      parsed.Choices[0].Message.Content,
		Tokens:    parsed.Usage.TotalTokens,
		ElapsedMs: time.Since(started).Milliseconds(),
	}, nil
}

// IsAvailable probes the models listing endpoint.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
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

func (b *Backend) fail(kind llm.FailureKind, status int, msg string, err error) *llm.BackendError {
	return &llm.BackendError{Backend: b.name, Kind: kind, Status: status, Message: msg, Err: err}
}
