// Package control is the entry point shared by the HTTP API and the CLI for
// starting, stopping and observing runs.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"netdash/internal/registry"
	"netdash/internal/runner"
	"netdash/internal/telemetry"
)

const defaultPreflightTimeout = 3 * time.Second

var (
	ErrAlreadyRunning = registry.ErrAlreadyRunning
	ErrNotFound       = registry.ErrNotFound
)

// HistoryStore persists finished runs.
type HistoryStore interface {
	Save(sum runner.Summary, cfg runner.Config) error
}

// ExecutorFactory builds the executor for one run.
type ExecutorFactory func(cfg runner.Config) (runner.Executor, error)

type Options struct {
	Limits           runner.Limits
	Client           runner.ClientOptions
	Preflight        bool
	PreflightTimeout time.Duration
	// Store may be nil.
	Store HistoryStore
	// NewExecutor overrides the HTTP executor.
	NewExecutor ExecutorFactory
}

// StartResult is returned by a successful Start.
type StartResult struct {
	SessionID string        `json:"sessionId"`
	Effective runner.Config `json:"effectiveConfig"`
	// Session lets in-process callers wait on Done when the terminal event
	// never reaches their subscription.
	Session *runner.Session `json:"-"`
}

// Manager owns the registry of active sessions and the event bus.
type Manager struct {
	opts   Options
	limits runner.Limits
	reg    *registry.Registry[*runner.Session]
	bus    *telemetry.Bus
	dialer proxy.ContextDialer
	client *http.Client

	wg sync.WaitGroup
}

func New(opts Options) (*Manager, error) {
	m := &Manager{
		opts:   opts,
		limits: opts.Limits.Normalize(),
		reg:    registry.New[*runner.Session](),
		bus:    telemetry.NewBus(),
	}
	if m.opts.PreflightTimeout <= 0 {
		m.opts.PreflightTimeout = defaultPreflightTimeout
	}

	dialer, err := opts.Client.Dialer()
	if err != nil {
		return nil, err
	}
	m.dialer = dialer

	if m.opts.NewExecutor == nil {
		client, err := runner.NewClient(opts.Client)
		if err != nil {
			return nil, err
		}
		m.client = client
		m.opts.NewExecutor = func(cfg runner.Config) (runner.Executor, error) {
			return runner.NewHTTPExecutor(client, cfg)
		}
	}
	return m, nil
}

// Limits returns the effective ceilings.
func (m *Manager) Limits() runner.Limits {
	return m.limits
}

// Start validates req, reserves its target and launches the run. The run
// outlives ctx; only Stop or Shutdown end it early.
//
// Errors wrap runner.ErrInvalidConfig, ErrAlreadyRunning or
// runner.ErrTargetUnreachable.
func (m *Manager) Start(ctx context.Context, req runner.Request) (StartResult, error) {
	cfg, err := runner.NewConfig(req, m.limits)
	if err != nil {
		return StartResult{}, err
	}
	exec, err := m.opts.NewExecutor(cfg)
	if err != nil {
		return StartResult{}, err
	}

	runCtx := context.WithoutCancel(ctx)

	var sess *runner.Session
	id, err := m.reg.Register(cfg.Target.URL, func(id string) *runner.Session {
		sess = runner.NewSession(id, cfg, exec,
			runner.WithSink(m.bus),
			runner.WithOnDone(func(sum runner.Summary) { m.finish(runCtx, cfg, sum) }),
		)
		return sess
	})
	if err != nil {
		return StartResult{}, err
	}

	if m.opts.Preflight {
		if err := runner.Preflight(ctx, m.dialer, cfg.Target.URL, m.opts.PreflightTimeout); err != nil {
			sess.Fail(ctx, err)
			return StartResult{}, err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sess.Run(runCtx)
	}()

	return StartResult{SessionID: id, Effective: cfg, Session: sess}, nil
}

// finish runs after a session's terminal event: it records history and
// frees the target.
func (m *Manager) finish(ctx context.Context, cfg runner.Config, sum runner.Summary) {
	if m.opts.Store != nil {
		if err := m.opts.Store.Save(sum, cfg); err != nil {
			slog.ErrorContext(ctx, "save history", slog.String("session_id", sum.SessionID), slog.Any("error", err))
		}
	}
	if err := m.reg.Remove(sum.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
		slog.ErrorContext(ctx, "remove session", slog.String("session_id", sum.SessionID), slog.Any("error", err))
	}
}

// Stop requests a graceful stop. It reports ErrNotFound for unknown
// or already terminated sessions and succeeds for one that is still stopping.
func (m *Manager) Stop(id string) error {
	e, err := m.reg.Get(id)
	if err != nil {
		return err
	}
	e.Session.Stop()
	return nil
}

// Session returns an active session.
func (m *Manager) Session(id string) (*runner.Session, error) {
	e, err := m.reg.Get(id)
	if err != nil {
		return nil, err
	}
	return e.Session, nil
}

// Snapshot returns the live detail of an active session.
func (m *Manager) Snapshot(id string) (runner.Snapshot, error) {
	s, err := m.Session(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// ListActive returns a live summary of every active session, oldest first.
func (m *Manager) ListActive() []runner.Summary {
	entries := m.reg.List()
	out := make([]runner.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Session.Summary())
	}
	return out
}

// Subscribe returns a subscription to the events of sessionID, or of every
// session when sessionID is empty.
func (m *Manager) Subscribe(sessionID string, buffer int) *telemetry.Subscription {
	return m.bus.Subscribe(sessionID, buffer)
}

// Subscribers reports the number of open subscriptions.
func (m *Manager) Subscribers() int {
	return m.bus.Subscribers()
}

// Shutdown stops every session and waits for them to finish or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, e := range m.reg.List() {
		e.Session.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	return nil
}
