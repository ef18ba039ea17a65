// Package shutdown runs registered cleanup exactly once, whether the process
// ends normally, by signal, or by panic.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"
)

// DefaultTimeout bounds how long hooks may take in total.
const DefaultTimeout = 10 * time.Second

// Logger is the Printf-style logger accepted across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager owns the shutdown routine.
type Manager struct {
	logger  Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
	err   error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// New returns a Manager with no hooks.
func New(opts ...Option) *Manager {
	m := &Manager{logger: nopLogger{}, timeout: DefaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Register adds a hook. Hooks run in reverse registration order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Run executes every hook once. Later calls return the first result.
func (m *Manager) Run() error {
	m.once.Do(func() {
		m.mu.Lock()
		hooks := append([]hook(nil), m.hooks...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.logger.Printf("shutdown: %s: %v", h.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			}
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}

// NotifyContext returns a context cancelled by any termination signal.
func (m *Manager) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, terminationSignals...)
}

// Wait blocks until ctx is done, then runs the hooks.
func (m *Manager) Wait(ctx context.Context) error {
	<-ctx.Done()
	m.logger.Printf("shutdown: %v", context.Cause(ctx))
	return m.Run()
}

// Recover runs the hooks before letting a panic continue. Use as
// `defer m.Recover()` at the top of main.
func (m *Manager) Recover() {
	if caught := recover(); caught != nil {
		m.logger.Printf("shutdown: panic: %v", caught)
		_ = m.Run()
		panic(caught)
	}
}

// Exit runs the hooks and exits with code.
func (m *Manager) Exit(code int) {
	if err := m.Run(); err != nil && code == 0 {
		code = 1
	}
	os.Exit(code)
}
