// Package prompt renders the system prompt from external template
// assets. Templates are plain text with a fixed slot set; template
// selection never derives from user input beyond the interface tag.
package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pocketportal/pocketportal/internal/domain/valueobject"
)

const defaultKey = "default"

// manifest lists the template file per interface tag.
type manifest struct {
	Templates map[string]string `yaml:"templates"`
}

// Manager loads and renders system prompt templates.
type Manager struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]string

	now    func() time.Time
	logger *zap.Logger
}

// NewManager loads templates from dir per its manifest.yaml.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		dir:    dir,
		now:    time.Now,
		logger: logger.With(zap.String("component", "prompt")),
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Render substitutes the slot set into the template for tag, falling
// back to the default template for unknown tags. Unknown slots are
// left intact.
func (m *Manager) Render(tag valueobject.InterfaceType, prefs valueobject.Preferences, toolsSummary string) string {
	m.mu.RLock()
	tmpl, ok := m.templates[strings.ToUpper(string(tag))]
	if !ok {
		tmpl = m.templates[defaultKey]
	}
	m.mu.RUnlock()

	return strings.NewReplacer(
		"{interface}", string(tag),
		"{toolsSummary}", toolsSummary,
		"{verbosity}", prefs.Verbosity(),
		"{now}", m.now().UTC().Format(time.RFC3339),
	).Replace(tmpl)
}

// Watch hot-reloads templates on file changes until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := m.reload(); err != nil {
					m.logger.Warn("template reload failed", zap.Error(err))
					continue
				}
				m.logger.Info("templates reloaded", zap.String("trigger", ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (m *Manager) reload() error {
	raw, err := os.ReadFile(filepath.Join(m.dir, "manifest.yaml"))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var mf manifest
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if _, ok := mf.Templates[defaultKey]; !ok {
		return fmt.Errorf("manifest has no %q template", defaultKey)
	}

	templates := make(map[string]string, len(mf.Templates))
	for tag, file := range mf.Templates {
		content, err := os.ReadFile(filepath.Join(m.dir, filepath.Base(file)))
		if err != nil {
			return fmt.Errorf("read template %s: %w", file, err)
		}
		key := tag
		if key != defaultKey {
			key = strings.ToUpper(key)
		}
		templates[key] = string(content)
	}

	m.mu.Lock()
	m.templates = templates
	m.mu.Unlock()
	return nil
}
