package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-service-runtime/adapters/inmemory"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

// Mesh runs any number of named services over one in-memory transport, the way
// separate processes would share a broker.
type Mesh struct {
	mu        sync.Mutex
	transport *inmemory.Transport
	logger    *slog.Logger
	services  map[string]*servicebus.Dispatcher
	order     []string
}

// New constructs a mesh backed by the in-memory adapter and returns it along with a
// cleanup function that closes every dispatcher and then the transport.
func New(logger *slog.Logger) (*Mesh, func()) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Mesh{
		transport: inmemory.New(),
		logger:    logger,
		services:  make(map[string]*servicebus.Dispatcher),
	}

	return m, func() { _ = m.Close() }
}

// Transport returns the shared transport.
func (m *Mesh) Transport() *inmemory.Transport { return m.transport }

// Service returns the dispatcher for name, creating it on first use.
// Options apply only when the dispatcher is created.
func (m *Mesh) Service(name string, opts ...servicebus.Option) *servicebus.Dispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.services[name]; ok {
		return d
	}

	d := servicebus.New(name, m.transport, m.logger, opts...)
	m.services[name] = d
	m.order = append(m.order, name)

	return d
}

// Start subscribes every service created so far.
func (m *Mesh) Start(ctx context.Context) error {
	m.mu.Lock()
	services := make([]*servicebus.Dispatcher, 0, len(m.order))
	for _, name := range m.order {
		services = append(services, m.services[name])
	}
	m.mu.Unlock()

	for _, d := range services {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Close closes dispatchers in reverse creation order, then the transport.
func (m *Mesh) Close() error {
	m.mu.Lock()
	order := m.order
	m.order = nil
	services := m.services
	m.services = make(map[string]*servicebus.Dispatcher)
	m.mu.Unlock()

	var errs []error

	for i := len(order) - 1; i >= 0; i-- {
		if err := services[order[i]].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.transport.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
