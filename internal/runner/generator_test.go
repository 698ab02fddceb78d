package runner_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netdash/internal/runner"
)

func credentials(specs []runner.ProbeSpec) [][2]string {
	out := make([][2]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, [2]string{s.Credential.Username, s.Credential.Password})
	}
	return out
}

func TestCredentialPairGeneratorUsernameMajor(t *testing.T) {
	t.Parallel()
	g := runner.NewCredentialPairGenerator([]string{"a", "b"}, []string{"x", "y"}, 10)

	batch := g.NextBatch(10)
	require.Equal(t, [][2]string{{"a", "x"}, {"a", "y"}, {"b", "x"}, {"b", "y"}}, credentials(batch))
	for i, s := range batch {
		require.Equal(t, i, s.Index)
	}
	require.Empty(t, g.NextBatch(10))
	require.Zero(t, g.Remaining())
}

func TestCredentialPairGeneratorBatchesAndBudget(t *testing.T) {
	t.Parallel()
	g := runner.NewCredentialPairGenerator(
		[]string{"admin", "root"}, []string{"a", "b", "c", "d"}, 5,
		runner.WithProbeTarget("http://example.test/login", 2*time.Second),
	)

	first := g.NextBatch(3)
	require.Equal(t, [][2]string{{"admin", "a"}, {"admin", "b"}, {"admin", "c"}}, credentials(first))
	require.Equal(t, "http://example.test/login", first[0].Target)
	require.Equal(t, 2*time.Second, first[0].Timeout)

	second := g.NextBatch(3)
	require.Equal(t, [][2]string{{"admin", "d"}, {"root", "a"}}, credentials(second))
	require.Equal(t, 4, second[1].Index)
	require.Empty(t, g.NextBatch(3))
}

func TestCredentialPairGeneratorEmptyLists(t *testing.T) {
	t.Parallel()
	require.Empty(t, runner.NewCredentialPairGenerator(nil, []string{"x"}, 10).NextBatch(5))
	require.Empty(t, runner.NewCredentialPairGenerator([]string{"a"}, nil, 10).NextBatch(5))
	require.Empty(t, runner.NewCredentialPairGenerator([]string{"a"}, []string{"x"}, 0).NextBatch(5))
}

func TestFixedRequestGenerator(t *testing.T) {
	t.Parallel()
	g := runner.NewFixedRequestGenerator(25)

	var sizes []int
	for {
		b := g.NextBatch(10)
		if len(b) == 0 {
			break
		}
		sizes = append(sizes, len(b))
		require.Nil(t, b[0].Credential)
	}
	require.Equal(t, []int{10, 10, 5}, sizes)
}
