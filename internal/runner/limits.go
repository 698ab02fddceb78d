package runner

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	MaxConcurrent    = 50
	MaxTotalAttempts = 10000
	MinDuration      = 5 * time.Second
	MaxDuration      = 300 * time.Second
	MaxRatePerSecond = 100
	MaxResponseBytes = 1 << 20

	DefaultConcurrency  = 10
	DefaultAttempts     = 100
	DefaultDuration     = 30 * time.Second
	DefaultProbeTimeout = 10 * time.Second
	MinProbeTimeout     = 1 * time.Second
	MaxProbeTimeout     = 30 * time.Second
	MaxDelay            = 60 * time.Second
)

// Limits are the operator ceilings applied to every Request. Configuration
// may lower them but never raise them past the compiled constants.
type Limits struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" json:"maxConcurrent"`
	MaxTotalAttempts int           `mapstructure:"max_total_attempts" json:"maxTotalAttempts"`
	MinDuration      time.Duration `mapstructure:"min_duration" json:"minDuration"`
	MaxDuration      time.Duration `mapstructure:"max_duration" json:"maxDuration"`
	MaxRatePerSecond int           `mapstructure:"max_rate_per_second" json:"maxRatePerSecond"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" json:"maxResponseBytes"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrent:    MaxConcurrent,
		MaxTotalAttempts: MaxTotalAttempts,
		MinDuration:      MinDuration,
		MaxDuration:      MaxDuration,
		MaxRatePerSecond: MaxRatePerSecond,
		MaxResponseBytes: MaxResponseBytes,
	}
}

// Normalize replaces unset fields with the compiled ceilings and lowers any
// field that exceeds them.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	l.MaxConcurrent = ceiling(l.MaxConcurrent, d.MaxConcurrent)
	l.MaxTotalAttempts = ceiling(l.MaxTotalAttempts, d.MaxTotalAttempts)
	l.MaxRatePerSecond = ceiling(l.MaxRatePerSecond, d.MaxRatePerSecond)
	l.MaxResponseBytes = ceiling(l.MaxResponseBytes, d.MaxResponseBytes)
	l.MaxDuration = ceiling(l.MaxDuration, d.MaxDuration)
	if l.MinDuration <= 0 || l.MinDuration > l.MaxDuration {
		l.MinDuration = min(d.MinDuration, l.MaxDuration)
	}
	return l
}

func ceiling[T int | int64 | time.Duration](v, max T) T {
	if v <= 0 || v > max {
		return max
	}
	return v
}

// Clamp returns v limited to [lo, hi].
func Clamp[T int | int64 | time.Duration](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// Config is the effective, clamped configuration of one run. It is never
// modified after NewConfig returns it.
type Config struct {
	Mode               Mode
	Target             Target
	Concurrency        int
	AttemptBudget      int
	DurationBudget     time.Duration
	WaveInterval       time.Duration
	ProbeTimeout       time.Duration
	EarlyStopOnSuccess bool
	Usernames          []string
	Passwords          []string
	MaxResponseBytes   int64
}

// HasDeadline reports whether DurationBudget bounds the run.
func (c Config) HasDeadline() bool {
	return c.Mode != ModeCredential
}

// NewConfig validates req and clamps every numeric field against limits.
// Validation failures wrap ErrInvalidConfig.
func NewConfig(req Request, limits Limits) (Config, error) {
	limits = limits.Normalize()

	mode := req.Mode
	if mode == "" {
		mode = ModeStress
	}
	switch mode {
	case ModeStress, ModeCredential, ModeResilience:
	default:
		return Config{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, req.Mode)
	}

	target, err := normalizeTarget(req.Target, mode)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:               mode,
		Target:             target,
		Concurrency:        Clamp(orDefault(req.Concurrency, DefaultConcurrency), 1, limits.MaxConcurrent),
		AttemptBudget:      Clamp(orDefault(req.Attempts, DefaultAttempts), 1, limits.MaxTotalAttempts),
		DurationBudget:     Clamp(orDefault(seconds(req.DurationSec), DefaultDuration), limits.MinDuration, limits.MaxDuration),
		ProbeTimeout:       Clamp(orDefault(seconds(req.TimeoutSec), DefaultProbeTimeout), MinProbeTimeout, MaxProbeTimeout),
		EarlyStopOnSuccess: mode == ModeCredential,
		MaxResponseBytes:   limits.MaxResponseBytes,
	}

	rate := Clamp(orDefault(req.Rate, limits.MaxRatePerSecond), 1, limits.MaxRatePerSecond)
	delay := time.Duration(Clamp(req.DelayMs, 0, int(MaxDelay/time.Millisecond))) * time.Millisecond
	cfg.WaveInterval = max(time.Duration(cfg.Concurrency)*time.Second/time.Duration(rate), delay)

	if mode == ModeCredential {
		cfg.Usernames = nonBlank(req.Usernames)
		cfg.Passwords = nonBlank(req.Passwords)
		if len(cfg.Usernames) == 0 || len(cfg.Passwords) == 0 {
			return Config{}, fmt.Errorf("%w: credential runs need at least one username and one password", ErrInvalidConfig)
		}
		cfg.AttemptBudget = min(cfg.AttemptBudget, len(cfg.Usernames)*len(cfg.Passwords))
	}

	if target.BodyTemplate != "" {
		if _, err := NewTemplateEngine().Parse("body", target.BodyTemplate); err != nil {
			return Config{}, fmt.Errorf("%w: body template: %v", ErrInvalidConfig, err)
		}
	}

	return cfg, nil
}

func normalizeTarget(t Target, mode Mode) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(t.URL))
	if err != nil {
		return Target{}, fmt.Errorf("%w: target url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("%w: target url must be http or https, got %q", ErrInvalidConfig, t.URL)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("%w: target url has no host", ErrInvalidConfig)
	}

	out := Target{
		URL:          u.String(),
		Method:       strings.ToUpper(strings.TrimSpace(t.Method)),
		Headers:      maps.Clone(t.Headers),
		Body:         t.Body,
		ContentType:  t.ContentType,
		BodyTemplate: t.BodyTemplate,
		ExtraFields:  maps.Clone(t.ExtraFields),
	}
	if out.Method == "" {
		out.Method = "GET"
		if mode == ModeCredential || out.Body != "" || out.BodyTemplate != "" {
			out.Method = "POST"
		}
	}
	if strings.ContainsAny(out.Method, " \t\r\n") {
		return Target{}, fmt.Errorf("%w: bad method %q", ErrInvalidConfig, t.Method)
	}

	if mode == ModeCredential && out.BodyTemplate == "" {
		out.UsernameField = cmp.Or(strings.TrimSpace(t.UsernameField), "username")
		out.PasswordField = cmp.Or(strings.TrimSpace(t.PasswordField), "password")
	}
	return out, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// seconds converts n without overflowing for absurd inputs.
func seconds(n int) time.Duration {
	return time.Duration(Clamp(n, 0, 1<<20)) * time.Second
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return slices.Clip(out)
}

// MarshalJSON renders durations as strings and reports candidate list sizes
// without echoing the lists.
func (c Config) MarshalJSON() ([]byte, error) {
	type view struct {
		Mode               Mode   `json:"mode"`
		Target             Target `json:"target"`
		Concurrency        int    `json:"concurrency"`
		AttemptBudget      int    `json:"attemptBudget"`
		DurationBudget     string `json:"durationBudget,omitempty"`
		WaveInterval       string `json:"waveInterval"`
		ProbeTimeout       string `json:"probeTimeout"`
		EarlyStopOnSuccess bool   `json:"earlyStopOnSuccess"`
		Usernames          int    `json:"usernames,omitempty"`
		Passwords          int    `json:"passwords,omitempty"`
	}
	v := view{
		Mode:               c.Mode,
		Target:             c.Target,
		Concurrency:        c.Concurrency,
		AttemptBudget:      c.AttemptBudget,
		WaveInterval:       c.WaveInterval.String(),
		ProbeTimeout:       c.ProbeTimeout.String(),
		EarlyStopOnSuccess: c.EarlyStopOnSuccess,
		Usernames:          len(c.Usernames),
		Passwords:          len(c.Passwords),
	}
	if c.HasDeadline() {
		v.DurationBudget = c.DurationBudget.String()
	}
	return json.Marshal(v)
}
