package transport

import (
	"log/slog"
	"sync"
)

// Registry multiplexes one physical connection per relay URL so independent
// subscribers in the same process share a socket. It is constructed once,
// owned by the application, and torn down explicitly; it holds no auction
// state.
type Registry struct {
	base   Config
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewRegistry creates a Registry whose connections inherit base (URL is
// overridden per Get).
func NewRegistry(base Config) *Registry {
	if base.Logger == nil {
		base.Logger = slog.Default()
	}
	return &Registry{
		base:   base,
		logger: base.Logger.With(slog.String("component", "transport_registry")),
		conns:  make(map[string]*Conn),
	}
}

// Get returns the shared connection for url, dialing on first use. It
// returns nil after Close.
func (r *Registry) Get(url string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if c, ok := r.conns[url]; ok {
		return c
	}
	cfg := r.base
	cfg.URL = url
	c := Dial(cfg)
	r.conns[url] = c
	r.logger.Info("shared connection created", slog.String("url", url))
	return c
}

// Close disposes every shared connection. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for url, c := range r.conns {
		_ = c.Close()
		delete(r.conns, url)
	}
}
