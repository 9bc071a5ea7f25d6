// Package readiness gates dependent steps on a dependency becoming available.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nulzo/gatewayctl/internal/httpclient"
	"go.uber.org/zap"
)

// ErrTimedOut is returned by Result.Err when the target never became ready.
var ErrTimedOut = errors.New("readiness timed out")

// Status is the terminal state of a poll.
type Status string

const (
	Ready    Status = "ready"
	TimedOut Status = "timed_out"
)

// Target is something that can be asked whether it is ready. Errors from
// Check are treated as "not yet ready".
type Target struct {
	Name  string
	Check func(ctx context.Context) (bool, error)
}

// Result describes how a poll ended.
type Result struct {
	Target   string
	Status   Status
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

// Err converts a timed-out result into an error wrapping ErrTimedOut.
func (r Result) Err() error {
	if r.Status == Ready {
		return nil
	}
	if r.LastErr != nil {
		return fmt.Errorf("%s: %w after %d attempts (last error: %v)", r.Target, ErrTimedOut, r.Attempts, r.LastErr)
	}
	return fmt.Errorf("%s: %w after %d attempts", r.Target, ErrTimedOut, r.Attempts)
}

// Prober runs bounded polling loops.
type Prober struct {
	// Backoff multiplies the interval after each failed attempt. Values <= 1
	// keep the interval fixed.
	Backoff float64
	// MaxInterval caps the grown interval. Zero means no cap.
	MaxInterval time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewProber returns a prober with a fixed interval.
func NewProber(logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll checks target up to maxAttempts times, sleeping between attempts
// (never after the last one). It returns Ready as soon as a check passes.
// The only error returned is context cancellation.
func (p *Prober) Poll(ctx context.Context, target Target, interval time.Duration, maxAttempts int) (Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	start := time.Now()
	res := Result{Target: target.Name, Status: TimedOut}
	wait := interval

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}

		res.Attempts = attempt
		ok, err := target.Check(ctx)
		if ok {
			res.Status = Ready
			res.LastErr = nil
			res.Elapsed = time.Since(start)
			p.logger.Debug("target ready", zap.String("target", target.Name), zap.Int("attempts", attempt))
			return res, nil
		}
		res.LastErr = err

		p.logger.Debug("target not ready yet",
			zap.String("target", target.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, wait); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		wait = p.next(wait)
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

func (p *Prober) next(d time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return d
	}
	n := time.Duration(float64(d) * p.Backoff)
	if p.MaxInterval > 0 && n > p.MaxInterval {
		n = p.MaxInterval
	}
	return n
}

// StatusPredicate decides readiness from an HTTP status code.
type StatusPredicate func(status int) bool

// Is2xx is the default readiness predicate.
func Is2xx(status int) bool { return status >= 200 && status < 300 }

// HTTPTarget builds a Target that GETs url with headers and applies pred to
// the response status.
func HTTPTarget(name string, client httpclient.HTTPClient, url string, headers map[string]string, pred StatusPredicate) Target {
	if pred == nil {
		pred = Is2xx
	}
	return Target{
		Name: name,
		Check: func(ctx context.Context) (bool, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return false, err
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			resp, err := client.Do(req)
			if err != nil {
				return false, err
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if !pred(resp.StatusCode) {
				return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return true, nil
		},
	}
}
