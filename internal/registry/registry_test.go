package registry_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"netdash/internal/registry"
)

type fakeSession struct{ id string }

func build(id string) *fakeSession { return &fakeSession{id: id} }

func TestRegisterGetRemove(t *testing.T) {
	t.Parallel()
	r := registry.New[*fakeSession]()

	id, err := r.Register("http://example.test/login", build)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, id, e.Session.id)
	require.Equal(t, "http://example.test/login", e.Target)

	require.NoError(t, r.Remove(id))
	_, err = r.Get(id)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.ErrorIs(t, r.Remove(id), registry.ErrNotFound)
}

func TestRegisterSameTargetTwice(t *testing.T) {
	t.Parallel()
	r := registry.New[*fakeSession]()

	id, err := r.Register("http://example.test/login", build)
	require.NoError(t, err)

	_, err = r.Register("HTTP://Example.test:80/login/", build)
	require.ErrorIs(t, err, registry.ErrAlreadyRunning)

	require.NoError(t, r.Remove(id))
	_, err = r.Register("http://example.test/login", build)
	require.NoError(t, err)
}

func TestDifferentTargetsCoexist(t *testing.T) {
	t.Parallel()
	r := registry.New[*fakeSession]()
	_, err := r.Register("http://a.test/", build)
	require.NoError(t, err)
	_, err = r.Register("http://b.test/", build)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())
	require.Len(t, r.List(), 2)
}

func TestConcurrentRegisterSameTarget(t *testing.T) {
	t.Parallel()
	r := registry.New[*fakeSession]()

	const n = 64
	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Register("http://contended.test/", build)
			if err == nil {
				ok.Add(1)
				return
			}
			require.ErrorIs(t, err, registry.ErrAlreadyRunning)
			rejected.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, n-1, rejected.Load())
}

func TestTargetKey(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		in, want string
	}{
		{"http://Example.test/login", "http://example.test/login"},
		{"http://example.test:80/login/", "http://example.test/login"},
		{"https://example.test:443", "https://example.test"},
		{"https://example.test:8443/a?x=1#y", "https://example.test:8443/a"},
		{"not a url", "not a url"},
	}
	for _, tt := range testCases {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, registry.TargetKey(tt.in))
		})
	}
}
