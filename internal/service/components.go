// File: internal/service/components.go
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/observability"
	"github.com/xkilldash9x/vigil-cli/internal/orchestrator"
	"github.com/xkilldash9x/vigil-cli/internal/session"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

// consumerShutdownTimeout bounds how long Shutdown waits for buffered tool
// results to reach the store.
const consumerShutdownTimeout = 35 * time.Second

// Components holds every service a conversation needs and owns their
// lifecycle.
type Components struct {
	Store        schemas.MemoryStore
	LLM          schemas.LLMClient
	Secondary    schemas.LLMClient
	Searcher     schemas.Searcher
	Registry     *tools.Registry
	Gate         *authz.Gate
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Results      *ResultConsumer
}

// Shutdown releases resources in dependency order: the result consumer is
// drained before the store it writes to is closed.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop accepting tool results and flush what is buffered.
	if c.Results != nil {
		if c.Results.Close(consumerShutdownTimeout) {
			logger.Debug("Result consumer finished processing.")
		} else {
			logger.Warn("Timed out waiting for the result consumer; some tool results may not be persisted.")
		}
	}

	// 2. Close the reasoning backends.
	for name, client := range map[string]schemas.LLMClient{"primary": c.LLM, "secondary": c.Secondary} {
		if client == nil {
			continue
		}
		if err := client.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.String("client", name), zap.Error(err))
		}
	}

	// 3. Close the memory store last.
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing memory store.", zap.Error(err))
		} else {
			logger.Debug("Memory store closed.")
		}
	}

	logger.Info("All components shut down successfully.")
}
