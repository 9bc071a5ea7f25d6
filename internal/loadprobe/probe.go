// Package loadprobe drives sustained traffic through a provisioned route and
// summarizes how the gateway held up.
package loadprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/services/diagnose"
	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"
)

// maxErrors is how many distinct error messages a Result keeps.
const maxErrors = 5

type Options struct {
	// Rate is requests per second.
	Rate     int
	Duration time.Duration
	// Timeout bounds each request. Zero uses vegeta's default.
	Timeout     time.Duration
	KeyHeader   string
	ConsumerKey string
}

// Result summarizes one attack.
type Result struct {
	Target      string
	Requests    uint64
	Success     float64
	Throughput  float64
	Mean        time.Duration
	P50         time.Duration
	P99         time.Duration
	Max         time.Duration
	StatusCodes map[string]int
	Errors      []string
}

// ErrorRate is the share of requests that did not succeed.
func (r Result) ErrorRate() float64 { return 1 - r.Success }

func (r Result) String() string {
	codes := make([]string, 0, len(r.StatusCodes))
	for code, n := range r.StatusCodes {
		codes = append(codes, fmt.Sprintf("%s:%d", code, n))
	}
	sort.Strings(codes)
	return fmt.Sprintf("%s: %d requests, %.2f%% success, %.2f req/s, p50 %s, p99 %s, max %s [%s]",
		r.Target, r.Requests, r.Success*100, r.Throughput, r.P50, r.P99, r.Max, strings.Join(codes, " "))
}

type Probe struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Probe {
	if opts.Rate <= 0 {
		opts.Rate = 5
	}
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Second
	}
	if opts.KeyHeader == "" {
		opts.KeyHeader = "apikey"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{opts: opts, logger: logger}
}

// Run attacks the target's route at gatewayURL for the configured duration.
// Cancelling ctx stops the attack early; the partial result is returned.
func (p *Probe) Run(ctx context.Context, gatewayURL string, target diagnose.Target) (Result, error) {
	spec := target.Route
	if len(spec.Methods) == 0 {
		return Result{}, domain.NewConfigurationError(spec.ID, "route has no methods", nil)
	}
	method := spec.Methods[0]

	var body []byte
	if b := diagnose.ProbeBody(method, spec.Capability, target.Model); b != nil {
		var err error
		if body, err = json.Marshal(b); err != nil {
			return Result{}, err
		}
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	if p.opts.ConsumerKey != "" {
		header.Set(p.opts.KeyHeader, p.opts.ConsumerKey)
	}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: method,
		URL:    strings.TrimRight(gatewayURL, "/") + spec.URIPattern,
		Body:   body,
		Header: header,
	})

	attackerOpts := []func(*vegeta.Attacker){vegeta.KeepAlive(true)}
	if p.opts.Timeout > 0 {
		attackerOpts = append(attackerOpts, vegeta.Timeout(p.opts.Timeout))
	}
	attacker := vegeta.NewAttacker(attackerOpts...)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			attacker.Stop()
		case <-stop:
		}
	}()

	p.logger.Info("Starting load probe",
		zap.String("route", spec.ID),
		zap.Int("rate", p.opts.Rate),
		zap.Duration("duration", p.opts.Duration),
	)

	var metrics vegeta.Metrics
	rate := vegeta.Rate{Freq: p.opts.Rate, Per: time.Second}
	for res := range attacker.Attack(targeter, rate, p.opts.Duration, spec.ID) {
		metrics.Add(res)
	}
	metrics.Close()

	result := Result{
		Target:      spec.ID,
		Requests:    metrics.Requests,
		Success:     metrics.Success,
		Throughput:  metrics.Throughput,
		Mean:        metrics.Latencies.Mean,
		P50:         metrics.Latencies.P50,
		P99:         metrics.Latencies.P99,
		Max:         metrics.Latencies.Max,
		StatusCodes: metrics.StatusCodes,
		Errors:      firstErrors(metrics.Errors, maxErrors),
	}
	p.logger.Debug("Load probe finished", zap.Stringer("result", result))
	return result, ctx.Err()
}

// RunAll probes each target in turn and stops at cancellation.
func (p *Probe) RunAll(ctx context.Context, gatewayURL string, targets []diagnose.Target) ([]Result, error) {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		res, err := p.Run(ctx, gatewayURL, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func firstErrors(errs []string, n int) []string {
	seen := make(map[string]bool, n)
	var out []string
	for _, msg := range errs {
		if seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
		if len(out) == n {
			break
		}
	}
	return out
}
