package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/pocketportal/pocketportal/internal/domain/tool"
)

func TestRegisterAllTools(t *testing.T) {
	reg := domaintool.NewRegistry(zap.NewNop())
	RegisterAllTools(reg, Deps{Logger: zap.NewNop()})

	for _, name := range []string{"current_time", "system_stats", "web_fetch", "delete_files"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("builtin %q not registered", name)
		}
	}

	d, _ := reg.Get("delete_files")
	if !d.RequiresConfirmation() {
		t.Error("delete_files must require confirmation")
	}
}

func TestCurrentTime(t *testing.T) {
	tool := &currentTimeTool{}

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil || res.Error != "" || res.Output == "" {
		t.Errorf("res = %+v, err = %v", res, err)
	}

	res, _ = tool.Execute(context.Background(), map[string]any{"timezone": "Not/AZone"})
	if res.Error == "" {
		t.Error("bad timezone should produce a tool-level error")
	}
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello body"))
	}))
	defer srv.Close()

	tool := &webFetchTool{client: srv.Client()}
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil || res.Error != "" {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	out := res.Output.(map[string]any)
	if out["status"] != 200 || out["body"] != "hello body" {
		t.Errorf("output = %v", out)
	}
}

func TestDeleteFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tmp", "b.tmp", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tool := &deleteFilesTool{}
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": filepath.Join(dir, "*.tmp")})
	if err != nil || res.Error != "" {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	deleted := res.Output.(map[string]any)["deleted"].([]string)
	if len(deleted) != 2 {
		t.Errorf("deleted = %v, want 2 files", deleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Error("non-matching file should survive")
	}
}
