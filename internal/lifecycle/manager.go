// Package lifecycle tracks long-lived resources and closes them in
// reverse order on shutdown.
package lifecycle

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources LIFO and aggregates failures.
type Manager struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	resources []resource
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager builds an empty manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		logger: log.With().Str("component", "lifecycle").Logger(),
	}
}

// Register adds a resource to close on shutdown.
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc wraps a cleanup function as a closer.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every registered resource in reverse registration order.
// All closers run even when earlier ones fail; the first error is returned.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			m.logger.Error().Err(err).Str("resource", res.name).Msg("close resource")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.resources = nil
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
