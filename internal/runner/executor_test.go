package runner_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netdash/internal/runner"
)

func newExecutor(t *testing.T, cfg runner.Config) *runner.HTTPExecutor {
	t.Helper()
	client, err := runner.NewClient(runner.ClientOptions{})
	require.NoError(t, err)
	t.Cleanup(client.CloseIdleConnections)
	exec, err := runner.NewHTTPExecutor(client, cfg)
	require.NoError(t, err)
	return exec
}

func mustConfig(t *testing.T, req runner.Request) runner.Config {
	t.Helper()
	cfg, err := runner.NewConfig(req, runner.DefaultLimits())
	require.NoError(t, err)
	return cfg
}

func TestHTTPExecutorFormLogin(t *testing.T) {
	t.Parallel()
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.Header.Clone()
		if r.PostForm.Get("user") == "admin" && r.PostForm.Get("pass") == "d" && r.PostForm.Get("remember") == "1" {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
			return
		}
		io.WriteString(w, "Invalid username or password")
	}))
	defer srv.Close()

	cfg := mustConfig(t, runner.Request{
		Mode: runner.ModeCredential,
		Target: runner.Target{
			URL:           srv.URL + "/login",
			UsernameField: "user",
			PasswordField: "pass",
			ExtraFields:   map[string]string{"remember": "1"},
		},
		Usernames: []string{"admin"},
		Passwords: []string{"d"},
	})
	exec := newExecutor(t, cfg)

	out := exec.Execute(context.Background(), runner.ProbeSpec{Index: 3, Credential: &runner.Credential{Username: "admin", Password: "d"}, Timeout: time.Second})
	require.True(t, out.OK)
	require.Equal(t, 3, out.Index)
	require.Equal(t, http.StatusFound, out.StatusCode, "redirects are not followed")
	require.Equal(t, "/dashboard", out.Location)
	require.Equal(t, "application/x-www-form-urlencoded", got.Get("Content-Type"))
	require.NotEmpty(t, got.Get("User-Agent"))

	out = exec.Execute(context.Background(), runner.ProbeSpec{Credential: &runner.Credential{Username: "admin", Password: "x"}, Timeout: time.Second})
	require.True(t, out.OK)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Contains(t, out.Body, "Invalid")
	require.False(t, runner.NewLoginClassifier().Classify(runner.ProbeSpec{}, out))
}

func TestHTTPExecutorBodyTemplate(t *testing.T) {
	t.Parallel()
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "yes", r.Header.Get("X-Test"))
		var m map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		bodies <- m
	}))
	defer srv.Close()

	cfg := mustConfig(t, runner.Request{
		Mode: runner.ModeCredential,
		Target: runner.Target{
			URL:          srv.URL,
			Headers:      map[string]string{"X-Test": "yes"},
			BodyTemplate: `{"u":"{{username}}","p":"{{password}}","n":{{attempt}},"id":"{{uuid}}"}`,
		},
		Usernames: []string{"root"},
		Passwords: []string{"toor"},
	})
	out := newExecutor(t, cfg).Execute(context.Background(), runner.ProbeSpec{Index: 4, Credential: &runner.Credential{Username: "root", Password: "toor"}})
	require.True(t, out.OK)

	m := <-bodies
	require.Equal(t, "root", m["u"])
	require.Equal(t, "toor", m["p"])
	require.EqualValues(t, 5, m["n"])
	require.Len(t, m["id"], 36)
}

func TestHTTPExecutorResponseTooLarge(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	cfg := mustConfig(t, runner.Request{Target: runner.Target{URL: srv.URL}})
	cfg.MaxResponseBytes = 1024
	out := newExecutor(t, cfg).Execute(context.Background(), runner.ProbeSpec{Timeout: time.Second})
	require.False(t, out.OK)
	require.Equal(t, runner.ErrResponseTooLarge.Error(), out.Err)
	require.Equal(t, http.StatusOK, out.StatusCode)
}

func TestHTTPExecutorTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := mustConfig(t, runner.Request{Target: runner.Target{URL: srv.URL}})
	out := newExecutor(t, cfg).Execute(context.Background(), runner.ProbeSpec{Timeout: 50 * time.Millisecond})
	require.False(t, out.OK)
	require.Equal(t, "timeout", out.Err)
	require.GreaterOrEqual(t, out.Elapsed, 50*time.Millisecond)
}

func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHTTPExecutorConnectionRefused(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, runner.Request{Target: runner.Target{URL: "http://" + closedAddr(t)}})
	out := newExecutor(t, cfg).Execute(context.Background(), runner.ProbeSpec{Timeout: time.Second})
	require.False(t, out.OK)
	require.Equal(t, "connection refused", out.Err)
}

func TestPreflight(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dialer, err := runner.ClientOptions{}.Dialer()
	require.NoError(t, err)
	require.NoError(t, runner.Preflight(context.Background(), dialer, srv.URL+"/login", time.Second))

	err = runner.Preflight(context.Background(), dialer, "http://"+closedAddr(t), time.Second)
	require.ErrorIs(t, err, runner.ErrTargetUnreachable)
}

func TestClientOptionsProxy(t *testing.T) {
	t.Parallel()
	_, err := runner.ClientOptions{Proxy: "socks5://127.0.0.1:1080"}.Dialer()
	require.NoError(t, err)

	_, err = runner.ClientOptions{Proxy: "gopher://127.0.0.1:70"}.Dialer()
	require.ErrorIs(t, err, runner.ErrInvalidConfig)
}
