package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"netdash/internal/log"
	"netdash/internal/stats"
	"netdash/internal/telemetry"
)

const (
	waveHistory    = 50
	outcomeHistory = 20
)

// Session runs one configured workload against one target in waves.
//
// Each wave draws up to Concurrency probes from the generator, runs them in
// parallel and waits for all of them before the next wave starts. Stop is
// checked between waves; probes already in flight always complete.
type Session struct {
	id   string
	cfg  Config
	exec Executor
	gen  Generator
	cls  Classifier
	sink telemetry.Sink

	onDone func(Summary)

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	sent     atomic.Int64
	stats    *stats.Stats
	failLog  rate.Sometimes

	mu       sync.Mutex
	status   Status
	started  time.Time
	waves    []WaveStats
	recent   []ProbeOutcome
	waveNum  int
	summary  Summary
	finished bool
}

type SessionOption func(*Session)

func WithGenerator(g Generator) SessionOption {
	return func(s *Session) { s.gen = g }
}

// WithClassifier overrides the mode's classifier. nil disables classification.
func WithClassifier(c Classifier) SessionOption {
	return func(s *Session) { s.cls = c }
}

func WithSink(sink telemetry.Sink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// WithOnDone registers fn to run after the terminal event is published.
func WithOnDone(fn func(Summary)) SessionOption {
	return func(s *Session) { s.onDone = fn }
}

func NewSession(id string, cfg Config, exec Executor, opts ...SessionOption) *Session {
	s := &Session{
		id:      id,
		cfg:     cfg,
		exec:    exec,
		gen:     NewGenerator(cfg),
		cls:     NewClassifier(cfg),
		sink:    telemetry.Discard,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		stats:   stats.NewStats(),
		failLog: rate.Sometimes{Interval: time.Second},
		status:  StatusPending,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) AttemptsSent() int { return int(s.sent.Load()) }

// Done is closed once the terminal event has been published.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop asks the run to end before its next wave. It is idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Fail ends a session that never started, publishing RunFailed.
func (s *Session) Fail(ctx context.Context, cause error) Summary {
	s.mu.Lock()
	if s.status != StatusPending {
		s.mu.Unlock()
		return s.Summary()
	}
	s.status = StatusFailed
	s.started = time.Now()
	s.mu.Unlock()

	slog.WarnContext(ctx, "run failed", slog.String("session_id", s.id), slog.Any("error", cause))
	return s.finish(StatusFailed, cause.Error())
}

// Run executes the wave loop until the attempt budget, the duration budget
// or the generator is exhausted, a credential is found, or Stop is called.
// Cancelling ctx is treated like Stop. Run returns the terminal summary.
func (s *Session) Run(ctx context.Context) Summary {
	s.mu.Lock()
	if s.status != StatusPending {
		s.mu.Unlock()
		<-s.done
		return s.Summary()
	}
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	ctx = log.ContextAttrs(ctx,
		slog.String("session_id", s.id),
		slog.String("mode", string(s.cfg.Mode)),
		slog.String("target", s.cfg.Target.URL),
	)
	slog.InfoContext(ctx, "run started",
		slog.Int("concurrency", s.cfg.Concurrency),
		slog.Int("attempt_budget", s.cfg.AttemptBudget),
		slog.Duration("wave_interval", s.cfg.WaveInterval),
	)
	s.publish(telemetry.RunStarted, s.cfg)

	var deadline time.Time
	if s.cfg.HasDeadline() {
		deadline = s.started.Add(s.cfg.DurationBudget)
	}

	// In-flight probes outlive a stop request.
	probeCtx := context.WithoutCancel(ctx)

	status, reason := StatusCompleted, ""
	remaining := s.cfg.AttemptBudget
	for remaining > 0 {
		if s.stopRequested() || ctx.Err() != nil {
			status, reason = StatusStopped, "stop requested"
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			reason = "duration budget reached"
			break
		}

		specs := s.gen.NextBatch(min(s.cfg.Concurrency, remaining))
		if len(specs) == 0 {
			break
		}
		wave := s.nextWave()
		outcomes := s.dispatch(probeCtx, specs)

		winner := -1
		for i := range outcomes {
			if s.cls != nil {
				outcomes[i].Verdict = s.cls.Classify(specs[i], outcomes[i])
			}
			if outcomes[i].Verdict && winner < 0 {
				winner = i
			}
			o := outcomes[i]
			s.stats.Add(o.OK, o.StatusCode, o.Bytes, o.Elapsed, o.Err, o.Verdict)
			if !o.OK {
				s.failLog.Do(func() {
					slog.DebugContext(ctx, "probe failed", slog.Int("index", o.Index), slog.String("cause", o.Err))
				})
			}
		}

		ws := aggregate(wave, outcomes)
		s.record(ws, outcomes)
		s.sent.Add(int64(len(specs)))
		remaining -= len(specs)
		slog.DebugContext(ctx, "wave completed", slog.Int("wave", wave), slog.Int("ok", ws.OK), slog.Int("failed", ws.Failed))

		s.publish(telemetry.WaveCompleted, ws)
		s.publish(telemetry.RunProgress, s.progress(deadline))

		if s.cfg.EarlyStopOnSuccess && winner >= 0 {
			w, o := specs[winner], outcomes[winner]
			found := &Found{
				Index:      w.Index,
				Wave:       wave,
				StatusCode: o.StatusCode,
				Location:   o.Location,
			}
			if w.Credential != nil {
				found.Credential = *w.Credential
			}
			s.mu.Lock()
			s.summary.Found = found
			s.mu.Unlock()
			slog.InfoContext(ctx, "credential found", slog.String("username", found.Username), slog.Int("index", found.Index))
			s.publish(telemetry.CredentialFound, *found)
			reason = "credential found"
			break
		}

		if remaining > 0 && !s.sleep(ctx, deadline) {
			status, reason = StatusStopped, "stop requested"
			break
		}
	}

	sum := s.finish(status, reason)
	slog.InfoContext(ctx, "run ended",
		slog.String("status", string(sum.Status)),
		slog.Int("attempts_sent", sum.AttemptsSent),
		slog.Int64("elapsed_ms", sum.ElapsedMs),
	)
	return sum
}

func (s *Session) nextWave() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waveNum++
	return s.waveNum
}

// dispatch runs every spec of a wave in parallel and waits for all of them.
// Outcomes are returned in spec order.
func (s *Session) dispatch(ctx context.Context, specs []ProbeSpec) []ProbeOutcome {
	outcomes := make([]ProbeOutcome, len(specs))
	var g errgroup.Group
	g.SetLimit(len(specs))
	for i, spec := range specs {
		g.Go(func() error {
			outcomes[i] = s.execute(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Session) execute(ctx context.Context, spec ProbeSpec) (out ProbeOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = ProbeOutcome{
				Index:   spec.Index,
				Elapsed: time.Since(start),
				Err:     fmt.Sprintf("probe panic: %v", r),
			}
		}
	}()
	out = s.exec.Execute(ctx, spec)
	out.Index = spec.Index
	return out
}

// sleep waits for the wave interval, cut short by the deadline. It returns
// false when woken by Stop or ctx.
func (s *Session) sleep(ctx context.Context, deadline time.Time) bool {
	d := s.cfg.WaveInterval
	if !deadline.IsZero() {
		d = min(d, time.Until(deadline))
	}
	if d <= 0 {
		return !s.stopRequested()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) record(ws WaveStats, outcomes []ProbeOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waves = appendBounded(s.waves, waveHistory, ws)
	s.recent = appendBounded(s.recent, outcomeHistory, outcomes...)
}

func (s *Session) progress(deadline time.Time) Progress {
	elapsed := time.Since(s.started)
	p := Progress{
		AttemptsSent:  s.AttemptsSent(),
		AttemptBudget: s.cfg.AttemptBudget,
		ElapsedMs:     elapsed.Milliseconds(),
		RemainingMs:   -1,
	}
	if !deadline.IsZero() {
		p.RemainingMs = max(time.Until(deadline).Milliseconds(), 0)
	}
	return p
}

// finish publishes the single terminal event and runs the done hook.
func (s *Session) finish(status Status, reason string) Summary {
	s.mu.Lock()
	s.status = status
	s.finished = true
	now := time.Now()
	snap := s.stats.Snapshot()
	sum := Summary{
		SessionID:     s.id,
		Mode:          s.cfg.Mode,
		Target:        s.cfg.Target.URL,
		Status:        status,
		Reason:        reason,
		AttemptsSent:  s.AttemptsSent(),
		AttemptBudget: s.cfg.AttemptBudget,
		SuccessCount:  int(snap.OK),
		FailureCount:  int(snap.Failed),
		VerdictCount:  int(snap.Verdicts),
		Waves:         s.waveNum,
		StartedAt:     s.started,
		FinishedAt:    now,
		ElapsedMs:     now.Sub(s.started).Milliseconds(),
		Latency:       snap,
		Found:         s.summary.Found,
	}
	s.summary = sum
	s.mu.Unlock()

	switch status {
	case StatusStopped:
		s.publish(telemetry.RunStopped, sum)
	case StatusFailed:
		s.publish(telemetry.RunFailed, sum)
	default:
		s.publish(telemetry.RunFinished, sum)
	}
	if s.onDone != nil {
		s.onDone(sum)
	}
	close(s.done)
	return sum
}

// Summary returns the terminal summary, or a live one while running.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.summary
	}
	snap := s.stats.Snapshot()
	return Summary{
		SessionID:     s.id,
		Mode:          s.cfg.Mode,
		Target:        s.cfg.Target.URL,
		Status:        s.status,
		AttemptsSent:  s.AttemptsSent(),
		AttemptBudget: s.cfg.AttemptBudget,
		SuccessCount:  int(snap.OK),
		FailureCount:  int(snap.Failed),
		VerdictCount:  int(snap.Verdicts),
		Waves:         s.waveNum,
		StartedAt:     s.started,
		ElapsedMs:     sinceMs(s.started),
		Latency:       snap,
		Found:         s.summary.Found,
	}
}

// Snapshot is the detailed live view of a session.
type Snapshot struct {
	Summary
	Config Config         `json:"config"`
	Waves  []WaveStats    `json:"waves"`
	Recent []ProbeOutcome `json:"recent"`
}

func (s *Session) Snapshot() Snapshot {
	sum := s.Summary()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Summary: sum,
		Config:  s.cfg,
		Waves:   append([]WaveStats(nil), s.waves...),
		Recent:  append([]ProbeOutcome(nil), s.recent...),
	}
}

func (s *Session) publish(t telemetry.EventType, data any) {
	s.sink.Publish(telemetry.Event{
		Type:      t,
		SessionID: s.id,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func aggregate(wave int, outcomes []ProbeOutcome) WaveStats {
	ws := WaveStats{Wave: wave, Size: len(outcomes)}
	var total time.Duration
	seen := make(map[string]bool)
	for _, o := range outcomes {
		total += o.Elapsed
		if o.OK {
			ws.OK++
		} else {
			ws.Failed++
		}
		if o.Verdict {
			ws.Verdicts++
		}
		if o.StatusCode > 0 {
			if ws.StatusCounts == nil {
				ws.StatusCounts = make(map[int]int)
			}
			ws.StatusCounts[o.StatusCode]++
		}
		if o.Err != "" && !seen[o.Err] {
			seen[o.Err] = true
			ws.Errors = append(ws.Errors, o.Err)
		}
	}
	if len(outcomes) > 0 {
		ws.AvgLatencyMs = float64(total.Microseconds()) / float64(len(outcomes)) / 1000
	}
	return ws
}

func appendBounded[T any](s []T, limit int, items ...T) []T {
	s = append(s, items...)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0:0], s[over:]...)
	}
	return s
}

func sinceMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Milliseconds()
}
