package runner_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"netdash/internal/runner"
)

func TestLoginClassifier(t *testing.T) {
	t.Parallel()
	c := runner.NewLoginClassifier()
	cases := []struct {
		name string
		out  runner.ProbeOutcome
		want bool
	}{
		{"redirect to dashboard", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/dashboard"}, true},
		{"redirect back to login", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/login?error=1"}, false},
		{"admin login path", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/admin/login"}, false},
		{"login script", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/login.php?failed=1"}, false},
		{"dashboard under auth", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "https://app.test/auth/dashboard"}, true},
		{"oauth callback is not a login page", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/oauth/callback"}, true},
		{"author page is not a login page", runner.ProbeOutcome{OK: true, StatusCode: 302, Location: "/author/42"}, true},
		{"failure text", runner.ProbeOutcome{OK: true, StatusCode: 200, Body: "<p>Invalid username or password</p>"}, false},
		{"welcome page", runner.ProbeOutcome{OK: true, StatusCode: 200, Body: "<h1>Welcome back</h1><a href=/logout>Logout</a>"}, true},
		{"json token", runner.ProbeOutcome{OK: true, StatusCode: 200, Body: `{"token":"abc"}`}, true},
		{"json success false", runner.ProbeOutcome{OK: true, StatusCode: 200, Body: `{"success":false}`}, false},
		{"json error", runner.ProbeOutcome{OK: true, StatusCode: 200, Body: `{"error":"nope"}`}, false},
		{"unauthorized status", runner.ProbeOutcome{OK: true, StatusCode: 401, Body: "welcome"}, false},
		{"server error", runner.ProbeOutcome{OK: true, StatusCode: 500}, false},
		{"no response", runner.ProbeOutcome{Err: "timeout"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(runner.ProbeSpec{}, tc.out))
		})
	}
}

func TestProtectionClassifier(t *testing.T) {
	t.Parallel()
	c := runner.NewProtectionClassifier()
	retry := http.Header{}
	retry.Set("Retry-After", "30")

	require.True(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{OK: true, StatusCode: 429}))
	require.True(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{OK: true, StatusCode: 503}))
	require.True(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{OK: true, StatusCode: 200, Header: retry}))
	require.True(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{OK: true, StatusCode: 200, Body: "Please complete the CAPTCHA"}))
	require.False(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{OK: true, StatusCode: 200, Body: "ok"}))
	require.False(t, c.Classify(runner.ProbeSpec{}, runner.ProbeOutcome{StatusCode: 429}))
}

func TestNewClassifierByMode(t *testing.T) {
	t.Parallel()
	require.Nil(t, runner.NewClassifier(runner.Config{Mode: runner.ModeStress}))
	require.IsType(t, &runner.LoginClassifier{}, runner.NewClassifier(runner.Config{Mode: runner.ModeCredential}))
	require.IsType(t, &runner.ProtectionClassifier{}, runner.NewClassifier(runner.Config{Mode: runner.ModeResilience}))
}
