package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	domaintool "github.com/pocketportal/pocketportal/internal/domain/tool"
)

// currentTimeTool reports the current time, optionally in a named
// IANA timezone.
type currentTimeTool struct{}

func (t *currentTimeTool) Name() string        { return "current_time" }
func (t *currentTimeTool) Description() string { return "Returns the current date and time" }
func (t *currentTimeTool) Category() string    { return "utility" }
func (t *currentTimeTool) Parameters() []domaintool.ParamSpec {
	return []domaintool.ParamSpec{
		{Name: "timezone", Type: "string", Description: "IANA timezone name, defaults to UTC"},
	}
}
func (t *currentTimeTool) RequiresConfirmation() bool { return false }

func (t *currentTimeTool) Execute(_ context.Context, args map[string]any) (*domaintool.Result, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return &domaintool.Result{Error: fmt.Sprintf("unknown timezone %q", tz)}, nil
		}
		loc = parsed
	}
	return &domaintool.Result{Output: time.Now().In(loc).Format(time.RFC1123)}, nil
}

// systemStatsTool reports process-level runtime statistics.
type systemStatsTool struct {
	startedAt time.Time
}

func (t *systemStatsTool) Name() string        { return "system_stats" }
func (t *systemStatsTool) Description() string { return "Reports process memory, goroutines and uptime" }
func (t *systemStatsTool) Category() string    { return "utility" }
func (t *systemStatsTool) Parameters() []domaintool.ParamSpec {
	return nil
}
func (t *systemStatsTool) RequiresConfirmation() bool { return false }

func (t *systemStatsTool) Execute(context.Context, map[string]any) (*domaintool.Result, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &domaintool.Result{Output: map[string]any{
		"goroutines":     runtime.NumGoroutine(),
		"cpus":           runtime.NumCPU(),
		"heap_alloc_mb":  mem.HeapAlloc / (1 << 20),
		"total_alloc_mb": mem.TotalAlloc / (1 << 20),
		"uptime_seconds": int64(time.Since(t.startedAt).Seconds()),
	}}, nil
}

// webFetchTool fetches a URL and returns a truncated body.
type webFetchTool struct {
	client *http.Client
}

const webFetchMaxBody = 64 * 1024

func (t *webFetchTool) Name() string        { return "web_fetch" }
func (t *webFetchTool) Description() string { return "Fetches a URL and returns the response body" }
func (t *webFetchTool) Category() string    { return "network" }
func (t *webFetchTool) Parameters() []domaintool.ParamSpec {
	return []domaintool.ParamSpec{
		{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
	}
}
func (t *webFetchTool) RequiresConfirmation() bool { return false }

func (t *webFetchTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return &domaintool.Result{Error: "url must be a non-empty string"}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBody))
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	return &domaintool.Result{Output: map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}}, nil
}

// deleteFilesTool removes files matching a glob. Destructive, so it is
// gated behind human confirmation.
type deleteFilesTool struct{}

func (t *deleteFilesTool) Name() string        { return "delete_files" }
func (t *deleteFilesTool) Description() string { return "Deletes files matching a glob pattern" }
func (t *deleteFilesTool) Category() string    { return "filesystem" }
func (t *deleteFilesTool) Parameters() []domaintool.ParamSpec {
	return []domaintool.ParamSpec{
		{Name: "pattern", Type: "string", Description: "Glob of files to delete", Required: true},
	}
}
func (t *deleteFilesTool) RequiresConfirmation() bool { return true }

func (t *deleteFilesTool) Execute(_ context.Context, args map[string]any) (*domaintool.Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return &domaintool.Result{Error: "pattern must be a non-empty string"}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &domaintool.Result{Error: fmt.Sprintf("bad pattern: %v", err)}, nil
	}

	deleted := make([]string, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			return &domaintool.Result{Error: fmt.Sprintf("delete %s: %v", path, err)}, nil
		}
		deleted = append(deleted, path)
	}
	return &domaintool.Result{Output: map[string]any{"deleted": deleted}}, nil
}
