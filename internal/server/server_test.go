package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netdash/internal/control"
	"netdash/internal/runner"
	"netdash/internal/server"
	"netdash/internal/storage"
)

type gate struct {
	ch   chan struct{}
	once sync.Once
}

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func newAPI(t *testing.T, opts control.Options, history server.History) (*httptest.Server, *gate) {
	t.Helper()
	g := &gate{ch: make(chan struct{})}
	if opts.NewExecutor == nil {
		opts.NewExecutor = func(cfg runner.Config) (runner.Executor, error) {
			return runner.ExecutorFunc(func(ctx context.Context, spec runner.ProbeSpec) runner.ProbeOutcome {
				if strings.Contains(cfg.Target.URL, "/blocked") {
					<-g.ch
				}
				return runner.ProbeOutcome{OK: true, StatusCode: 200}
			}), nil
		}
	}
	mgr, err := control.New(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(mgr, history, "test").Handler())
	t.Cleanup(func() {
		g.open()
		srv.Close()
		require.NoError(t, mgr.Shutdown(context.Background()))
	})
	return srv, g
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestStartAndInspect(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, control.Options{}, nil)

	code, body := post(t, srv.URL+"/api/runs", `{"target":{"url":"http://example.test/blocked"},"concurrency":500}`)
	require.Equal(t, http.StatusAccepted, code)
	id := body["sessionId"].(string)
	require.NotEmpty(t, id)
	eff := body["effectiveConfig"].(map[string]any)
	require.EqualValues(t, runner.MaxConcurrent, eff["concurrency"])

	code, body = get(t, srv.URL+"/api/runs")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["runs"], 1)

	code, body = get(t, srv.URL+"/api/runs/"+id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, id, body["sessionId"])

	code, body = post(t, srv.URL+"/api/runs", `{"target":{"url":"http://EXAMPLE.test:80/blocked/"}}`)
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, body["error"], "already")

	code, _ = post(t, srv.URL+"/api/runs/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, srv.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "test", body["version"])
}

func TestStartErrors(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := l.Addr().String()
	require.NoError(t, l.Close())

	srv, _ := newAPI(t, control.Options{Preflight: true}, nil)

	code, body := post(t, srv.URL+"/api/runs", `{"target":{"url":"ftp://example.test"}}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, body["error"])

	code, _ = post(t, srv.URL+"/api/runs", `{"target":`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, srv.URL+"/api/runs", `{"mode":"credential","target":{"url":"http://example.test"}}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, srv.URL+"/api/runs", `{"target":{"url":"http://`+closed+`/"}}`)
	require.Equal(t, http.StatusBadGateway, code)

	code, _ = post(t, srv.URL+"/api/runs/nope/stop", "")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv.URL+"/api/runs/nope")
	require.Equal(t, http.StatusNotFound, code)
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, control.Options{}, nil)

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	code, body := post(t, srv.URL+"/api/runs", `{"target":{"url":"http://example.test/fast"},"concurrency":10,"attempts":25}`)
	require.Equal(t, http.StatusAccepted, code)
	id := body["sessionId"].(string)

	var types []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e struct {
			Type      string          `json:"type"`
			SessionID string          `json:"sessionId"`
			Data      json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		require.Equal(t, id, e.SessionID)
		types = append(types, e.Type)
		if e.Type == "RunFinished" {
			var sum runner.Summary
			require.NoError(t, json.Unmarshal(e.Data, &sum))
			require.Equal(t, 25, sum.SuccessCount)
			break
		}
	}
	require.Equal(t, []string{
		"RunStarted",
		"WaveCompleted", "RunProgress",
		"WaveCompleted", "RunProgress",
		"WaveCompleted", "RunProgress",
		"RunFinished",
	}, types)
}

func TestSessionEventStreamEndsAfterTerminal(t *testing.T) {
	t.Parallel()
	srv, g := newAPI(t, control.Options{}, nil)

	code, body := post(t, srv.URL+"/api/runs", `{"target":{"url":"http://example.test/blocked"},"attempts":10}`)
	require.Equal(t, http.StatusAccepted, code)
	id := body["sessionId"].(string)

	resp, err := http.Get(srv.URL + "/api/events?session=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	g.open()

	done := make(chan string, 1)
	go func() {
		var last string
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				last = v
			}
		}
		done <- last
	}()

	select {
	case last := <-done:
		require.Equal(t, "RunFinished", last)
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not end")
	}
}

type fakeHistory struct{ records []storage.Record }

func (f fakeHistory) List(limit int) ([]storage.Record, error) {
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f fakeHistory) Get(id string) (storage.Record, error) {
	for _, r := range f.records {
		if r.Summary.SessionID == id {
			return r, nil
		}
	}
	return storage.Record{}, storage.ErrNotFound
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h := fakeHistory{records: []storage.Record{
		{Summary: runner.Summary{SessionID: "b", Status: runner.StatusStopped}},
		{Summary: runner.Summary{SessionID: "a", Status: runner.StatusCompleted}},
	}}
	srv, _ := newAPI(t, control.Options{}, h)

	code, body := get(t, srv.URL+"/api/history?limit=1")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["runs"], 1)

	code, body = get(t, srv.URL+"/api/history/a")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["summary"].(map[string]any)["status"])

	code, _ = get(t, srv.URL+"/api/history/zzz")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv.URL+"/api/history?limit=x")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, control.Options{}, nil)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/runs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
