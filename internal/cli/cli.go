// Package cli runs a single session headlessly and prints its progress.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"netdash/internal/control"
	"netdash/internal/runner"
	"netdash/internal/telemetry"
	"netdash/internal/tui"
)

type Options struct {
	Out io.Writer
	// JSON prints the terminal summary as JSON instead of text.
	JSON bool
	// TUI shows the interactive view instead of the progress line.
	TUI bool
}

// Run starts req on mgr and follows it to its terminal event. Cancelling ctx
// requests a graceful stop; Run still waits for the terminal summary.
func Run(ctx context.Context, mgr *control.Manager, req runner.Request, opts Options) (runner.Summary, error) {
	sub := mgr.Subscribe("", 0)
	defer sub.Close()

	res, err := mgr.Start(ctx, req)
	if err != nil {
		return runner.Summary{}, err
	}
	stop := func() { _ = mgr.Stop(res.SessionID) }

	if opts.TUI {
		return tui.Run(res.Effective, res.Session, sub.C, stop)
	}

	if !opts.JSON {
		printHeader(opts.Out, res)
	}

	report := func(sum runner.Summary) (runner.Summary, error) {
		if opts.JSON {
			enc := json.NewEncoder(opts.Out)
			enc.SetIndent("", "  ")
			return sum, enc.Encode(sum)
		}
		PrintSummary(opts.Out, sum)
		return sum, nil
	}

	// handle prints e and reports whether it ended the run.
	handle := func(e telemetry.Event) (runner.Summary, bool) {
		if e.SessionID != res.SessionID {
			return runner.Summary{}, false
		}
		switch data := e.Data.(type) {
		case runner.Progress:
			if !opts.JSON {
				printProgress(opts.Out, data)
			}
		case runner.Found:
			if !opts.JSON {
				fmt.Fprintf(opts.Out, "\n\nFOUND  %s : %s  (attempt %d, HTTP %d)\n", data.Username, data.Password, data.Index+1, data.StatusCode)
			}
		}
		if !e.Type.Terminal() {
			return runner.Summary{}, false
		}
		sum, _ := e.Data.(runner.Summary)
		return sum, true
	}

	done := res.Session.Done()
	for {
		select {
		case <-ctx.Done():
			stop()
			// Keep draining until the session ends.
			ctx = context.WithoutCancel(ctx)
		case e := <-sub.C:
			if sum, ok := handle(e); ok {
				return report(sum)
			}
		case <-done:
			// Every delivered event is buffered by now. A stalled writer can
			// still have cost the terminal event to a full buffer; the
			// session holds the same summary.
			for {
				select {
				case e := <-sub.C:
					if sum, ok := handle(e); ok {
						return report(sum)
					}
				default:
					return report(res.Session.Summary())
				}
			}
		}
	}
}

func printHeader(w io.Writer, res control.StartResult) {
	cfg := res.Effective
	fmt.Fprintf(w, "\nSTARTING %s RUN %s\n", strings.ToUpper(string(cfg.Mode)), res.SessionID)
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Target       : %s %s\n", cfg.Target.Method, cfg.Target.URL)
	fmt.Fprintf(w, "Concurrency  : %d\n", cfg.Concurrency)
	fmt.Fprintf(w, "Attempts     : %d\n", cfg.AttemptBudget)
	if cfg.HasDeadline() {
		fmt.Fprintf(w, "Duration     : %s\n", cfg.DurationBudget)
	} else {
		fmt.Fprintf(w, "Candidates   : %d users x %d passwords\n", len(cfg.Usernames), len(cfg.Passwords))
	}
	fmt.Fprintf(w, "Wave interval: %s\n", cfg.WaveInterval)
	fmt.Fprintf(w, "Probe timeout: %s\n", cfg.ProbeTimeout)
	fmt.Fprintf(w, "======================================================================\n\n")
}

func printProgress(w io.Writer, p runner.Progress) {
	pct := 0.0
	if p.AttemptBudget > 0 {
		pct = float64(p.AttemptsSent) / float64(p.AttemptBudget)
	}
	elapsed := (time.Duration(p.ElapsedMs) * time.Millisecond).Round(100 * time.Millisecond)
	fmt.Fprintf(w, "\r%s %3.0f%% | %d/%d | %s", progressBar(pct, 20), pct*100, p.AttemptsSent, p.AttemptBudget, elapsed)
	if p.RemainingMs >= 0 {
		fmt.Fprintf(w, " | %s left", (time.Duration(p.RemainingMs) * time.Millisecond).Round(time.Second))
	}
}

func progressBar(pct float64, width int) string {
	filled := min(max(int(pct*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary writes the human-readable terminal summary.
func PrintSummary(w io.Writer, sum runner.Summary) {
	l := sum.Latency
	fmt.Fprintf(w, "\n\nRUN %s", strings.ToUpper(string(sum.Status)))
	if sum.Reason != "" {
		fmt.Fprintf(w, " (%s)", sum.Reason)
	}
	fmt.Fprintf(w, "\n======================================================================\n")
	fmt.Fprintf(w, "Elapsed        : %s\n", (time.Duration(sum.ElapsedMs) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(w, "Attempts Sent  : %d / %d in %d waves\n", sum.AttemptsSent, sum.AttemptBudget, sum.Waves)
	fmt.Fprintf(w, "Responses      : %d\n", sum.SuccessCount)
	fmt.Fprintf(w, "Failures       : %d\n", sum.FailureCount)
	fmt.Fprintf(w, "Verdicts       : %d\n", sum.VerdictCount)
	fmt.Fprintf(w, "\nRESPONSE TIMES (ms)\n")
	fmt.Fprintf(w, "   P50 : %.2f\n", l.P50Ms)
	fmt.Fprintf(w, "   P90 : %.2f\n", l.P90Ms)
	fmt.Fprintf(w, "   P99 : %.2f\n", l.P99Ms)
	fmt.Fprintf(w, "   Max : %.2f\n", l.MaxMs)

	if len(l.StatusCounts) > 0 {
		codes := make([]int, 0, len(l.StatusCounts))
		for c := range l.StatusCounts {
			codes = append(codes, c)
		}
		slices.Sort(codes)
		fmt.Fprintf(w, "\nSTATUS CODES\n")
		for _, c := range codes {
			fmt.Fprintf(w, "   %d x HTTP %d\n", l.StatusCounts[c], c)
		}
	}

	if len(l.ErrorCounts) > 0 {
		causes := make([]string, 0, len(l.ErrorCounts))
		for c := range l.ErrorCounts {
			causes = append(causes, c)
		}
		slices.Sort(causes)
		fmt.Fprintf(w, "\nFAILURE SUMMARY\n")
		for _, c := range causes {
			fmt.Fprintf(w, "   %d x %s\n", l.ErrorCounts[c], c)
		}
	}

	if f := sum.Found; f != nil {
		fmt.Fprintf(w, "\nCREDENTIAL FOUND: %s : %s\n", f.Username, f.Password)
	}
	fmt.Fprintf(w, "======================================================================\n")
}

// FormatHeaders parses "Key: Value" flags.
func FormatHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: header %q is not \"Key: Value\"", runner.ErrInvalidConfig, h)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
