package shave

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/goutils/urlutil"

	"github.com/root4loot/shave/internal/errors"
)

// ErrVisited is the Result.Error of a target the Runner already captured.
var ErrVisited = errors.New("target already visited")

// Runner captures many targets, each in its own capture run.
type Runner struct {
	Client  *Client
	Options RunnerOptions
	visited map[string]bool
	mutex   sync.Mutex
}

// RunnerOptions contains options for the runner
type RunnerOptions struct {
	Concurrency int           // number of concurrent capture runs
	Timeout     time.Duration // per target, including driver startup (0 disables)
}

// DefaultRunnerOptions returns default options
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		Concurrency: 10,
		Timeout:     time.Minute,
	}
}

// NewRunner returns a runner with a default client and options.
func NewRunner() *Runner {
	return NewRunnerWithOptions(NewClient(), DefaultRunnerOptions())
}

// NewRunnerWithOptions returns a runner using client for every capture.
func NewRunnerWithOptions(client *Client, options RunnerOptions) *Runner {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	return &Runner{
		Client:  client,
		Options: options,
		visited: make(map[string]bool),
	}
}

// Single captures one target. A target without a scheme is tried over
// https first and falls back to http unless the host does not resolve or
// the attempt timed out.
func (r *Runner) Single(ctx context.Context, target string) Result {
	target = strings.TrimSpace(target)

	if urlutil.HasScheme(target) {
		return r.captureURL(ctx, target)
	}

	log.Debugf("No scheme specified for %s: trying HTTPS", target)
	result := r.captureURL(ctx, "https://"+target)
	if result.Error != nil && shouldRetryWithHTTP(result.Error) {
		log.Debugf("HTTPS failed for %s: %v. Trying HTTP.", target, result.Error)
		result = r.captureURL(ctx, "http://"+target)
	}
	return result
}

// Multiple captures targets concurrently and returns all results.
func (r *Runner) Multiple(ctx context.Context, targets []string) []Result {
	log.Debug("Running multiple...")

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(targets))
	)
	r.each(ctx, targets, func(res Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	})
	return results
}

// MultipleStream captures targets concurrently and sends each result on
// resultsChan, which is closed once all targets are done.
func (r *Runner) MultipleStream(ctx context.Context, resultsChan chan<- Result, targets ...string) {
	log.Debug("Running multiple stream...")
	defer close(resultsChan)

	r.each(ctx, targets, func(res Result) { resultsChan <- res })
}

func (r *Runner) each(ctx context.Context, targets []string, emit func(Result)) {
	sem := make(chan struct{}, r.Options.Concurrency)
	var wg sync.WaitGroup
	for _, target := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(t string) {
			defer func() { <-sem }()
			defer wg.Done()
			emit(r.Single(ctx, t))
		}(target)
	}
	wg.Wait()
}

func (r *Runner) captureURL(ctx context.Context, rawURL string) Result {
	rawURL, err := urlutil.RemoveDefaultPort(rawURL)
	if err != nil {
		return Result{TargetURL: rawURL, Error: err}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Result{TargetURL: rawURL, Error: err}
	}

	if !strings.HasSuffix(parsedURL.Path, "/") && !urlutil.HasFileExtension(parsedURL.Path) {
		parsedURL.Path += "/"
	}
	captureURL := parsedURL.String()

	if !r.markVisited(captureURL) {
		log.Warnf("Skipping %s as it has already been visited", captureURL)
		return Result{TargetURL: captureURL, Error: ErrVisited}
	}
	log.Debugf("Attempting capture on %s", captureURL)

	if r.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.Timeout)
		defer cancel()
	}

	result, err := r.Client.CaptureScreenshot(ctx, parsedURL)
	if err != nil {
		return Result{TargetURL: captureURL, Error: err}
	}
	return *result
}

// markVisited records u and reports whether it was new.
func (r *Runner) markVisited(u string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.visited[u] {
		return false
	}
	r.visited[u] = true
	return true
}

func shouldRetryWithHTTP(err error) bool {
	if errors.Is(err, ErrVisited) || errors.Is(err, context.Canceled) {
		return false
	}
	// The driver never started, so the scheme is irrelevant.
	var launchErr *errors.LaunchError
	if errors.As(err, &launchErr) {
		return false
	}
	return !isDNSError(err) && !isTimeoutError(err)
}

func isDNSError(err error) bool {
	if err == nil {
		return false
	}

	errMessage := err.Error()
	return strings.Contains(errMessage, "net::ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(errMessage, "no such host")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout) {
		return true
	}

	errMessage := err.Error()
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(errMessage, "timeout")
}
