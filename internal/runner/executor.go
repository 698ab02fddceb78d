package runner

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"text/template"
	"time"

	"golang.org/x/net/proxy"
)

const bodySampleBytes = 64 * 1024

// Executor performs one probe. Implementations must turn every failure into
// a ProbeOutcome instead of panicking or returning an error.
type Executor interface {
	Execute(ctx context.Context, spec ProbeSpec) ProbeOutcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec ProbeSpec) ProbeOutcome

func (f ExecutorFunc) Execute(ctx context.Context, spec ProbeSpec) ProbeOutcome {
	return f(ctx, spec)
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"netdash/1.0",
}

// ClientOptions configures the shared HTTP client.
type ClientOptions struct {
	// Proxy is a socks5://host:port URL. Empty means direct.
	Proxy string
}

// Dialer returns the dialer used for probes and preflight checks.
func (o ClientOptions) Dialer() (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if o.Proxy == "" {
		return direct, nil
	}
	u, err := url.Parse(o.Proxy)
	if err != nil {
		return nil, fmt.Errorf("%w: proxy: %v", ErrInvalidConfig, err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("%w: proxy: %v", ErrInvalidConfig, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("%w: proxy %q does not support contexts", ErrInvalidConfig, u.Scheme)
	}
	return cd, nil
}

// NewClient builds an HTTP client that never follows redirects, so login
// responses can be judged by their Location header. Timeouts come from the
// per-probe context.
func NewClient(opts ClientOptions) (*http.Client, error) {
	dialer, err := opts.Dialer()
	if err != nil {
		return nil, err
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	t.MaxIdleConns = 200
	t.MaxIdleConnsPerHost = MaxConcurrent
	t.MaxConnsPerHost = MaxConcurrent * 2
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &http.Client{
		Transport: t,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// HTTPExecutor sends probes for one run.
type HTTPExecutor struct {
	client   *http.Client
	target   Target
	maxBytes int64
	engine   *TemplateEngine
	tmpl     *template.Template
}

func NewHTTPExecutor(client *http.Client, cfg Config) (*HTTPExecutor, error) {
	e := &HTTPExecutor{
		client:   client,
		target:   cfg.Target,
		maxBytes: cfg.MaxResponseBytes,
		engine:   NewTemplateEngine(),
	}
	if e.maxBytes <= 0 {
		e.maxBytes = MaxResponseBytes
	}
	if cfg.Target.BodyTemplate != "" {
		t, err := e.engine.Parse("body", cfg.Target.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("%w: body template: %v", ErrInvalidConfig, err)
		}
		e.tmpl = t
	}
	return e, nil
}

func (e *HTTPExecutor) Execute(ctx context.Context, spec ProbeSpec) ProbeOutcome {
	out := ProbeOutcome{Index: spec.Index}
	start := time.Now()

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req, err := e.newRequest(ctx, spec)
	if err != nil {
		out.Err = err.Error()
		out.Elapsed = time.Since(start)
		return out
	}

	resp, err := e.client.Do(req)
	if err != nil {
		out.Err = Cause(err)
		out.Elapsed = time.Since(start)
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.Location = resp.Header.Get("Location")
	out.Header = resp.Header.Clone()

	n, sample, err := readCapped(resp.Body, e.maxBytes)
	out.Bytes = n
	out.Body = sample
	out.Elapsed = time.Since(start)
	if err != nil {
		out.Err = Cause(err)
		return out
	}
	out.OK = true
	return out
}

func (e *HTTPExecutor) newRequest(ctx context.Context, spec ProbeSpec) (*http.Request, error) {
	target := spec.Target
	if target == "" {
		target = e.target.URL
	}

	var (
		body        string
		contentType = e.target.ContentType
	)
	switch {
	case e.tmpl != nil:
		data := TemplateData{UUID: e.engine.randomUUID(), Attempt: spec.Index + 1}
		if c := spec.Credential; c != nil {
			data.Username, data.Password = c.Username, c.Password
		}
		rendered, err := e.engine.Execute(e.tmpl, data)
		if err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
		body = rendered
		if contentType == "" && looksLikeJSON(body) {
			contentType = "application/json"
		}
	case spec.Credential != nil:
		form := url.Values{}
		for k, v := range e.target.ExtraFields {
			form.Set(k, v)
		}
		form.Set(e.target.UsernameField, spec.Credential.Username)
		form.Set(e.target.PasswordField, spec.Credential.Password)
		body = form.Encode()
		if contentType == "" {
			contentType = "application/x-www-form-urlencoded"
		}
	default:
		body = e.target.Body
	}

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, e.target.Method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range e.target.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	}
	return req, nil
}

// readCapped drains r, keeping at most bodySampleBytes. It fails with
// ErrResponseTooLarge once more than max bytes have been read.
func readCapped(r io.Reader, max int64) (int64, string, error) {
	var sample bytes.Buffer
	buf := make([]byte, 32*1024)
	var n int64
	lr := io.LimitReader(r, max+1)
	for {
		k, err := lr.Read(buf)
		if k > 0 {
			if room := bodySampleBytes - sample.Len(); room > 0 {
				sample.Write(buf[:min(k, room)])
			}
			n += int64(k)
		}
		if n > max {
			return n, sample.String(), ErrResponseTooLarge
		}
		if errors.Is(err, io.EOF) {
			return n, sample.String(), nil
		}
		if err != nil {
			return n, sample.String(), err
		}
	}
}

// Cause reduces a transport error to a short, stable description suitable
// for grouping.
func Cause(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, ErrResponseTooLarge):
		return ErrResponseTooLarge.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset"
	case errors.As(err, &dnsErr):
		return "dns: " + dnsErr.Err
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "connection closed"
	}
	return err.Error()
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// Preflight checks that the target accepts TCP connections.
func Preflight(ctx context.Context, dialer proxy.ContextDialer, rawURL string, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrTargetUnreachable, addr, Cause(err))
	}
	return conn.Close()
}
