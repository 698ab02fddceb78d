package dummy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"netdash/internal/dummy"
	"netdash/internal/runner"
)

func TestLoginAgainstClassifier(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(dummy.NewHandler(dummy.ServerConfig{NoJitter: true, Username: "root", Password: "d"}))
	defer srv.Close()

	for _, tc := range []struct {
		name     string
		template string
	}{
		{"form", ""},
		{"json", `{"username":"{{username}}","password":"{{password}}"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := runner.NewConfig(runner.Request{
				Mode:      runner.ModeCredential,
				Target:    runner.Target{URL: srv.URL + "/login", BodyTemplate: tc.template},
				Usernames: []string{"root"},
				Passwords: []string{"x", "d"},
			}, runner.DefaultLimits())
			require.NoError(t, err)
			client, err := runner.NewClient(runner.ClientOptions{})
			require.NoError(t, err)
			defer client.CloseIdleConnections()
			exec, err := runner.NewHTTPExecutor(client, cfg)
			require.NoError(t, err)
			cls := runner.NewLoginClassifier()

			bad := exec.Execute(context.Background(), runner.ProbeSpec{Credential: &runner.Credential{Username: "root", Password: "x"}})
			require.True(t, bad.OK)
			require.False(t, cls.Classify(runner.ProbeSpec{}, bad))

			good := exec.Execute(context.Background(), runner.ProbeSpec{Credential: &runner.Credential{Username: "root", Password: "d"}})
			require.True(t, good.OK)
			require.True(t, cls.Classify(runner.ProbeSpec{}, good))
		})
	}
}

func TestLimitedEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(dummy.NewHandler(dummy.ServerConfig{NoJitter: true, LimitRPS: 2}))
	defer srv.Close()

	var limited int
	for range 10 {
		resp, err := http.Get(srv.URL + "/limited")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
			require.Equal(t, "1", resp.Header.Get("Retry-After"))
		}
	}
	require.GreaterOrEqual(t, limited, 7)
}
