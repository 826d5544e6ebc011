// Package tool ships the builtin tools and their single registration
// entry point.
package tool

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/pocketportal/pocketportal/internal/domain/tool"
)

// Deps carries what builtin tools need at construction.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// RegisterAllTools installs every builtin into the registry.
// Construction failures are recorded, never raised.
func RegisterAllTools(registry *domaintool.Registry, deps Deps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	registry.Register(&currentTimeTool{})
	registry.Register(&systemStatsTool{startedAt: time.Now()})
	registry.Register(&webFetchTool{client: deps.HTTPClient})
	registry.Register(&deleteFilesTool{})
}
