package runner

import (
	"net/http"
	"time"

	"netdash/internal/stats"
)

// Mode selects the probe payload and how outcomes are judged.
type Mode string

const (
	ModeStress     Mode = "stress"
	ModeCredential Mode = "credential"
	ModeResilience Mode = "resilience"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Target describes the remote endpoint and how a request to it is built.
type Target struct {
	URL         string            `json:"url" yaml:"url" toml:"url"`
	Method      string            `json:"method,omitempty" yaml:"method,omitempty" toml:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty" toml:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty" yaml:"contentType,omitempty" toml:"contentType,omitempty"`

	// BodyTemplate is rendered for every probe when set, e.g.
	// {"user":"{{username}}","pass":"{{password}}"}.
	BodyTemplate string `json:"bodyTemplate,omitempty" yaml:"bodyTemplate,omitempty" toml:"bodyTemplate,omitempty"`

	// Credential runs without a BodyTemplate submit a form with these fields.
	UsernameField string            `json:"usernameField,omitempty" yaml:"usernameField,omitempty" toml:"usernameField,omitempty"`
	PasswordField string            `json:"passwordField,omitempty" yaml:"passwordField,omitempty" toml:"passwordField,omitempty"`
	ExtraFields   map[string]string `json:"extraFields,omitempty" yaml:"extraFields,omitempty" toml:"extraFields,omitempty"`
}

// Request is what a caller asks for. Every numeric field is clamped by
// NewConfig; non-positive values select the default.
type Request struct {
	Mode        Mode   `json:"mode" yaml:"mode" toml:"mode"`
	Target      Target `json:"target" yaml:"target" toml:"target"`
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
	Attempts    int    `json:"attempts,omitempty" yaml:"attempts,omitempty" toml:"attempts,omitempty"`
	DurationSec int    `json:"durationSec,omitempty" yaml:"durationSec,omitempty" toml:"durationSec,omitempty"`
	Rate        int    `json:"rate,omitempty" yaml:"rate,omitempty" toml:"rate,omitempty"`
	DelayMs     int    `json:"delayMs,omitempty" yaml:"delayMs,omitempty" toml:"delayMs,omitempty"`
	TimeoutSec  int    `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty" toml:"timeoutSec,omitempty"`

	Usernames     []string `json:"usernames,omitempty" yaml:"usernames,omitempty" toml:"usernames,omitempty"`
	Passwords     []string `json:"passwords,omitempty" yaml:"passwords,omitempty" toml:"passwords,omitempty"`
	UsernamesFile string   `json:"-" yaml:"usernamesFile,omitempty" toml:"usernamesFile,omitempty"`
	PasswordsFile string   `json:"-" yaml:"passwordsFile,omitempty" toml:"passwordsFile,omitempty"`
}

// Credential is the payload of one credential probe.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProbeSpec is one task produced by a Generator. It is never modified after
// creation.
type ProbeSpec struct {
	// Index is the send order within the run, starting at 0.
	Index      int
	Target     string
	Credential *Credential
	Timeout    time.Duration
}

// ProbeOutcome is the result of executing one ProbeSpec. OK reports that a
// complete response was received, whatever its status code.
type ProbeOutcome struct {
	Index      int           `json:"index"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"statusCode,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Bytes      int64         `json:"bytes"`
	Location   string        `json:"location,omitempty"`
	Err        string        `json:"error,omitempty"`
	Verdict    bool          `json:"verdict,omitempty"`

	// Body holds at most the first bodySampleBytes of the response.
	Body   string      `json:"-"`
	Header http.Header `json:"-"`
}

// WaveStats aggregates one wave.
type WaveStats struct {
	Wave         int         `json:"wave"`
	Size         int         `json:"size"`
	OK           int         `json:"ok"`
	Failed       int         `json:"failed"`
	Verdicts     int         `json:"verdicts"`
	AvgLatencyMs float64     `json:"avgLatencyMs"`
	Errors       []string    `json:"errors,omitempty"`
	StatusCounts map[int]int `json:"statusCounts,omitempty"`
}

// Progress is published after every wave.
type Progress struct {
	AttemptsSent  int   `json:"attemptsSent"`
	AttemptBudget int   `json:"attemptBudget"`
	ElapsedMs     int64 `json:"elapsedMs"`
	// RemainingMs is -1 when the run has no duration budget.
	RemainingMs int64 `json:"remainingMs"`
}

// Found is published when a credential probe is classified as a success.
type Found struct {
	Credential
	Index      int    `json:"index"`
	Wave       int    `json:"wave"`
	StatusCode int    `json:"statusCode"`
	Location   string `json:"location,omitempty"`
}

// Summary is the payload of the terminal event and of persisted history.
type Summary struct {
	SessionID     string         `json:"sessionId"`
	Mode          Mode           `json:"mode"`
	Target        string         `json:"target"`
	Status        Status         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	AttemptsSent  int            `json:"attemptsSent"`
	AttemptBudget int            `json:"attemptBudget"`
	SuccessCount  int            `json:"successCount"`
	FailureCount  int            `json:"failureCount"`
	VerdictCount  int            `json:"verdictCount"`
	Waves         int            `json:"waves"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	ElapsedMs     int64          `json:"elapsedMs"`
	Latency       stats.Snapshot `json:"latency"`
	Found         *Found         `json:"found,omitempty"`
}
