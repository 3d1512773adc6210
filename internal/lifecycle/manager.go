package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order.
type Manager struct {
	log zerolog.Logger

	mu        sync.Mutex
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates a manager that logs close failures to log.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a resource. Registering after Close closes it immediately.
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeOne(resource{name: name, closer: closer})
		return
	}
	m.resources = append(m.resources, resource{name: name, closer: closer})
	m.mu.Unlock()
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every resource, even after failures, and returns all errors
// joined. Calling Close twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := m.closeOne(resources[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeOne(res resource) error {
	if err := res.closer.Close(); err != nil {
		m.log.Error().
			Err(err).
			Str("resource", res.name).
			Msg("lifecycle.close_resource_failed")
		return fmt.Errorf("close %s: %w", res.name, err)
	}
	m.log.Debug().Str("resource", res.name).Msg("lifecycle.closed")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
