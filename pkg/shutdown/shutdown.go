package shutdown

import (
	"context"
	"sync"

	"github.com/tradehound/gobroker/pkg/logger"
)

// Handler is one teardown step. It must respect ctx: Shutdown is called with
// a deadline and will not wait past it.
type Handler func(ctx context.Context)

// Manager collects teardown steps and runs them concurrently on Shutdown.
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a teardown step.
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Shutdown runs every registered handler and blocks until all finish or ctx
// expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	logger.WithField("handlers", len(handlers)).Info("shutting down")

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h Handler) {
			defer wg.Done()
			h(ctx)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.WithError(ctx.Err()).Warn("shutdown deadline exceeded")
	}
}
