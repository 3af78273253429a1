package shave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shaveerrors "github.com/root4loot/shave/internal/errors"
)

func TestShouldRetryWithHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"navigation refused", errors.New("net::ERR_CONNECTION_REFUSED"), true},
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), false},
		{"no such host", fmt.Errorf("dial: %w", errors.New("lookup x: no such host")), false},
		{"deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), false},
		{"discovery timeout", &shaveerrors.TimeoutError{PID: 1}, false},
		{"visited", ErrVisited, false},
		{"cancelled", fmt.Errorf("navigate: %w", context.Canceled), false},
		{"launch", &shaveerrors.LaunchError{Executable: "chromedriver", Err: errors.New("not found")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRetryWithHTTP(tt.err))
		})
	}
}

func TestRunnerMultiple(t *testing.T) {
	c, b := testClient(t, "listen")
	r := NewRunnerWithOptions(c, RunnerOptions{Concurrency: 2})

	results := r.Multiple(context.Background(), []string{
		"http://a.test",
		"http://b.test/",
		"http://a.test/",
	})
	require.Len(t, results, 3)

	var captured []string
	var skipped int
	for _, res := range results {
		if errors.Is(res.Error, ErrVisited) {
			skipped++
			continue
		}
		require.NoError(t, res.Error)
		captured = append(captured, res.TargetURL)
	}
	sort.Strings(captured)

	assert.Equal(t, []string{"http://a.test/", "http://b.test/"}, captured)
	assert.Equal(t, 1, skipped)
	assert.Len(t, b.sessions, 2)
}

func TestRunnerMultipleStream(t *testing.T) {
	c, _ := testClient(t, "listen")
	r := NewRunnerWithOptions(c, RunnerOptions{Concurrency: 0})
	assert.Equal(t, 1, r.Options.Concurrency)

	results := make(chan Result)
	go r.MultipleStream(context.Background(), results, "http://a.test/", "http://b.test/")

	var n int
	for res := range results {
		assert.NoError(t, res.Error)
		assert.NotEmpty(t, res.Image)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestRunnerFallsBackToHTTP(t *testing.T) {
	c, b := testClient(t, "listen")
	b.configure = func(s *fakeSession) {
		s.fail["navigate https://a.test/"] = errors.New("net::ERR_SSL_PROTOCOL_ERROR")
	}
	r := NewRunnerWithOptions(c, DefaultRunnerOptions())

	res := r.Single(context.Background(), "a.test")
	require.NoError(t, res.Error)
	assert.Equal(t, "http://a.test/", res.TargetURL)
	assert.Len(t, b.sessions, 2)
}

func TestRunnerSkipsHTTPAfterLaunchError(t *testing.T) {
	c, b := testClient(t, "listen")
	b.executable = "/nonexistent/shave-driver"
	r := NewRunnerWithOptions(c, DefaultRunnerOptions())

	res := r.Single(context.Background(), "a.test")

	var launchErr *shaveerrors.LaunchError
	require.True(t, errors.As(res.Error, &launchErr), "got %v", res.Error)
	assert.Len(t, b.caps, 1, "a driver that cannot start must not be launched again over http")
}
