package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const defaultJournalMaxBytes = 16 << 20

// PersistentBus decorates a Bus with a JSON-lines journal on disk.
// Journal failures are logged and never affect delivery.
type PersistentBus struct {
	*Bus

	mu       sync.Mutex
	file     *os.File
	path     string
	written  int64
	maxBytes int64
	logger   *zap.Logger
}

// NewPersistent wraps bus with a journal at path. maxBytes <= 0 selects
// the default rotation size.
func NewPersistent(bus *Bus, path string, maxBytes int64, logger *zap.Logger) (*PersistentBus, error) {
	if maxBytes <= 0 {
		maxBytes = defaultJournalMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	return &PersistentBus{
		Bus:      bus,
		file:     f,
		path:     path,
		written:  info.Size(),
		maxBytes: maxBytes,
		logger:   logger.With(zap.String("component", "eventbus.journal")),
	}, nil
}

// Publish appends the event to the journal, then delivers it.
func (p *PersistentBus) Publish(event Event) {
	p.append(event)
	p.Bus.Publish(event)
}

// Close flushes the journal and shuts the underlying bus down.
func (p *PersistentBus) Close() {
	p.mu.Lock()
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	p.mu.Unlock()
	p.Bus.Close()
}

func (p *PersistentBus) append(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("journal marshal failed", zap.Error(err))
		return
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	if p.written+int64(len(line)) > p.maxBytes {
		p.rotate()
	}
	n, err := p.file.Write(line)
	p.written += int64(n)
	if err != nil {
		p.logger.Warn("journal write failed", zap.Error(err))
	}
}

// rotate renames the current journal to <path>.1, replacing any
// previous rotation.
func (p *PersistentBus) rotate() {
	p.file.Close()
	if err := os.Rename(p.path, p.path+".1"); err != nil {
		p.logger.Warn("journal rotate failed", zap.Error(err))
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.logger.Error("journal reopen failed", zap.Error(err))
		p.file = nil
		return
	}
	p.file = f
	p.written = 0
}
