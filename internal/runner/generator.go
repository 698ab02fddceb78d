package runner

import (
	"time"
)

// Generator produces the probes of a run in send order. NextBatch returns up
// to n specs and an empty slice once the generator is exhausted. Generators
// are driven by a single session loop and are not safe for concurrent use.
type Generator interface {
	NextBatch(n int) []ProbeSpec
}

// GeneratorOption sets the target and timeout stamped on every spec.
type GeneratorOption func(*probeDefaults)

type probeDefaults struct {
	target  string
	timeout time.Duration
}

func WithProbeTarget(target string, timeout time.Duration) GeneratorOption {
	return func(d *probeDefaults) {
		d.target = target
		d.timeout = timeout
	}
}

// FixedRequestGenerator yields total identical probes.
type FixedRequestGenerator struct {
	probeDefaults
	total int
	next  int
}

func NewFixedRequestGenerator(total int, opts ...GeneratorOption) *FixedRequestGenerator {
	g := &FixedRequestGenerator{total: max(total, 0)}
	for _, o := range opts {
		o(&g.probeDefaults)
	}
	return g
}

func (g *FixedRequestGenerator) NextBatch(n int) []ProbeSpec {
	n = min(n, g.total-g.next)
	if n <= 0 {
		return nil
	}
	out := make([]ProbeSpec, n)
	for i := range out {
		out[i] = ProbeSpec{Index: g.next, Target: g.target, Timeout: g.timeout}
		g.next++
	}
	return out
}

// CredentialPairGenerator walks the username × password product in
// username-major order, stopping after maxAttempts pairs.
type CredentialPairGenerator struct {
	probeDefaults
	usernames []string
	passwords []string
	total     int
	next      int
}

func NewCredentialPairGenerator(usernames, passwords []string, maxAttempts int, opts ...GeneratorOption) *CredentialPairGenerator {
	g := &CredentialPairGenerator{
		usernames: usernames,
		passwords: passwords,
		total:     min(len(usernames)*len(passwords), max(maxAttempts, 0)),
	}
	for _, o := range opts {
		o(&g.probeDefaults)
	}
	return g
}

func (g *CredentialPairGenerator) NextBatch(n int) []ProbeSpec {
	n = min(n, g.total-g.next)
	if n <= 0 {
		return nil
	}
	out := make([]ProbeSpec, n)
	for i := range out {
		u := g.usernames[g.next/len(g.passwords)]
		p := g.passwords[g.next%len(g.passwords)]
		out[i] = ProbeSpec{
			Index:      g.next,
			Target:     g.target,
			Timeout:    g.timeout,
			Credential: &Credential{Username: u, Password: p},
		}
		g.next++
	}
	return out
}

// Remaining reports how many pairs are left.
func (g *CredentialPairGenerator) Remaining() int {
	return g.total - g.next
}

// NewGenerator returns the generator for cfg's mode.
func NewGenerator(cfg Config) Generator {
	opt := WithProbeTarget(cfg.Target.URL, cfg.ProbeTimeout)
	if cfg.Mode == ModeCredential {
		return NewCredentialPairGenerator(cfg.Usernames, cfg.Passwords, cfg.AttemptBudget, opt)
	}
	return NewFixedRequestGenerator(cfg.AttemptBudget, opt)
}
