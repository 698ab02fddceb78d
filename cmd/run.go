package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netdash/internal/cli"
	"netdash/internal/runner"
	"netdash/internal/storage"
)

type runFlags struct {
	url          string
	method       string
	headers      []string
	body         string
	bodyTemplate string
	contentType  string

	concurrency int
	attempts    int
	duration    int
	rate        int
	delay       int
	timeout     int

	plan string
	tui  bool
	json bool

	usersFile     string
	passwordsFile string
	users         []string
	passwords     []string
	usernameField string
	passwordField string
	fields        []string
}

func newRunCmd(mode runner.Mode, use, short string) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(mode, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			return runOnce(cmd, req, cli.Options{Out: cmd.OutOrStdout(), JSON: f.json, TUI: f.tui})
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.url, "url", "u", "", "target URL")
	fl.StringVarP(&f.method, "method", "X", "", "HTTP method (default GET, or POST when a body is sent)")
	fl.StringSliceVarP(&f.headers, "header", "H", nil, "HTTP header (e.g. \"Key: Value\")")
	fl.StringVarP(&f.body, "body", "b", "", "request body")
	fl.StringVar(&f.bodyTemplate, "body-template", "", "request body template ({{username}}, {{password}}, {{uuid}}, {{attempt}})")
	fl.StringVar(&f.contentType, "content-type", "", "Content-Type of the body")
	fl.IntVarP(&f.concurrency, "concurrency", "c", runner.DefaultConcurrency, "probes per wave")
	fl.IntVarP(&f.attempts, "attempts", "n", runner.DefaultAttempts, "total probe budget")
	fl.IntVar(&f.timeout, "timeout", int(runner.DefaultProbeTimeout/time.Second), "per-probe timeout in seconds")
	fl.IntVarP(&f.rate, "rate", "r", 0, "probes per second (0 = the configured maximum)")
	fl.IntVar(&f.delay, "delay", 0, "minimum pause between waves in milliseconds")
	fl.StringVar(&f.plan, "plan", "", "YAML or TOML run plan; flags given explicitly override it")
	fl.BoolVar(&f.tui, "tui", false, "interactive view")
	fl.BoolVar(&f.json, "json", false, "print the summary as JSON")

	if mode == runner.ModeCredential {
		fl.StringVar(&f.usersFile, "users", "", "username wordlist file")
		fl.StringVar(&f.passwordsFile, "passwords", "", "password wordlist file")
		fl.StringSliceVar(&f.users, "user", nil, "username to try (repeatable)")
		fl.StringSliceVar(&f.passwords, "pass", nil, "password to try (repeatable)")
		fl.StringVar(&f.usernameField, "username-field", "", "form field for the username (default username)")
		fl.StringVar(&f.passwordField, "password-field", "", "form field for the password (default password)")
		fl.StringSliceVar(&f.fields, "field", nil, "extra form field as key=value (repeatable)")
	} else {
		fl.IntVarP(&f.duration, "duration", "d", int(runner.DefaultDuration/time.Second), "duration budget in seconds")
	}

	cmd.MarkFlagsMutuallyExclusive("tui", "json")
	return cmd
}

// request builds the Request from the plan file, if any, and the flags.
// Without a plan every flag applies; with one only flags set explicitly do.
func (f *runFlags) request(mode runner.Mode, changed func(string) bool) (runner.Request, error) {
	var req runner.Request
	if f.plan != "" {
		var err error
		if req, err = runner.LoadPlan(f.plan); err != nil {
			return runner.Request{}, err
		}
	}
	req.Mode = mode

	set := func(name string) bool { return f.plan == "" || changed(name) }

	if set("url") {
		req.Target.URL = f.url
	}
	if set("method") {
		req.Target.Method = f.method
	}
	if set("body") {
		req.Target.Body = f.body
	}
	if set("body-template") {
		req.Target.BodyTemplate = f.bodyTemplate
	}
	if set("content-type") {
		req.Target.ContentType = f.contentType
	}
	if len(f.headers) > 0 {
		h, err := cli.FormatHeaders(f.headers)
		if err != nil {
			return runner.Request{}, err
		}
		if req.Target.Headers == nil {
			req.Target.Headers = make(map[string]string, len(h))
		}
		maps.Copy(req.Target.Headers, h)
	}

	if set("concurrency") {
		req.Concurrency = f.concurrency
	}
	if set("attempts") {
		req.Attempts = f.attempts
	}
	if set("duration") {
		req.DurationSec = f.duration
	}
	if set("rate") {
		req.Rate = f.rate
	}
	if set("delay") {
		req.DelayMs = f.delay
	}
	if set("timeout") {
		req.TimeoutSec = f.timeout
	}

	if mode != runner.ModeCredential {
		return req, nil
	}

	var err error
	if req.Usernames, err = appendFile(req.Usernames, f.usersFile); err != nil {
		return runner.Request{}, err
	}
	if req.Passwords, err = appendFile(req.Passwords, f.passwordsFile); err != nil {
		return runner.Request{}, err
	}
	req.Usernames = append(req.Usernames, f.users...)
	req.Passwords = append(req.Passwords, f.passwords...)

	if set("username-field") {
		req.Target.UsernameField = f.usernameField
	}
	if set("password-field") {
		req.Target.PasswordField = f.passwordField
	}
	for _, kv := range f.fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return runner.Request{}, fmt.Errorf("%w: field %q is not key=value", runner.ErrInvalidConfig, kv)
		}
		if req.Target.ExtraFields == nil {
			req.Target.ExtraFields = make(map[string]string)
		}
		req.Target.ExtraFields[k] = v
	}
	return req, nil
}

func appendFile(list []string, path string) ([]string, error) {
	if path == "" {
		return list, nil
	}
	words, err := runner.LoadWordlist(path)
	if err != nil {
		return nil, fmt.Errorf("%w: wordlist: %v", runner.ErrInvalidConfig, err)
	}
	return append(list, words...), nil
}

// runOnce follows one session to its end. Ctrl-C requests a graceful stop.
func runOnce(cmd *cobra.Command, req runner.Request, opts cli.Options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openHistory(ctx)
	if store != nil {
		defer store.Close()
	}

	mgr, err := newManager(store)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "shutdown", slog.Any("error", err))
		}
	}()

	sum, err := cli.Run(ctx, mgr, req, opts)
	if err != nil {
		return err
	}
	if sum.Status == runner.StatusFailed {
		return fmt.Errorf("run failed: %s", sum.Reason)
	}
	return nil
}

// openHistory opens the history store for a headless run. A run still
// proceeds when the store is unavailable, for example while serve holds it.
func openHistory(ctx context.Context) *storage.Store {
	dir, err := dataDir()
	if err != nil {
		slog.WarnContext(ctx, "history disabled", slog.Any("error", err))
		return nil
	}
	store, err := storage.Open(dir)
	if err != nil {
		slog.WarnContext(ctx, "history disabled", slog.String("dir", dir), slog.Any("error", err))
		return nil
	}
	return store
}
