package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maskguard/maskguard/pkg/logging"
)

// Manager coordinates graceful shutdown: registered functions run in reverse
// order (LIFO) once a termination signal arrives.
type Manager struct {
	mu      sync.Mutex
	funcs   []func(context.Context) error
	timeout time.Duration
	log     *logging.Logger
}

// New creates a shutdown manager with the given per-shutdown timeout.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		log:     log.WithComponent("shutdown"),
	}
}

// Register adds a shutdown function. Functions run in reverse registration
// order.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
}

// Wait blocks until SIGINT or SIGTERM, then runs all registered shutdown
// functions.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	m.log.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	m.Shutdown()
}

// Shutdown executes the registered functions LIFO under the configured
// timeout.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.funcs) - 1; i >= 0; i-- {
		if err := m.funcs[i](ctx); err != nil {
			m.log.Warn("shutdown step failed", map[string]interface{}{"error": err.Error()})
		}
	}
	m.log.Info("shutdown complete")
}
