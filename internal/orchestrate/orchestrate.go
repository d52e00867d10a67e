// Package orchestrate implements the per-capability workflows of spec.md
// §4.D: fallback/aggregate fan-out over providers, timeout-bound
// cancellation of each provider call, and policy-specific merge/dedup.
//
// Every orchestrator shares the tryProvider skeleton below: build a
// cancellation token, race the provider call against a timer, and always
// release the timer on exit — spec.md §9 "Cancellation propagation" calls
// for this to be explicit rather than left to an ad-hoc race, and §8 asks
// for it as a testable property (no leaked timers).
package orchestrate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// Attempt records one provider call's outcome for analytics, independent of
// whether it contributed to the final result.
type Attempt struct {
	Provider string
	Success  bool
	Latency  time.Duration
	Error    string // empty on success
}

// Chain is a completed fan-out: every attempt plus which provider (if any)
// ultimately won.
type Chain struct {
	ID                string
	Operation         string
	Attempts          []Attempt
	SuccessfulProvider string // "" if none succeeded
	TotalLatency      time.Duration
}

// Recorder receives one Chain per orchestration call. Implemented by
// internal/analytics; kept as a narrow interface here to avoid a dependency
// cycle (spec.md §4.I).
type Recorder interface {
	RecordChain(ctx context.Context, c Chain)
}

// nopRecorder is used when no Recorder is configured.
type nopRecorder struct{}

func (nopRecorder) RecordChain(context.Context, Chain) {}

// errTimeout is classified distinctly from generic provider errors so
// callers can distinguish "timed out" from "errored" without string
// matching, mirroring the sum-type design note in spec.md §9.
var errTimeout = errors.New("provider timeout (request cancelled)")

// tryProvider races fn against a per-call timeout. The timer (via the
// derived context's cancel) is always released before tryProvider returns,
// on every exit path, satisfying the "no leaked timer" testable property.
// Errors classified by the caller as a cancellation (context.Canceled or a
// deadline exceeded on the derived context) are reported as a timeout
// rather than a generic failure, per spec.md §4.D's shared pattern.
func tryProvider[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, Attempt) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		lat := time.Since(start)
		if r.err != nil {
			if isCancellation(r.err) || isCancellation(cctx.Err()) {
				return r.v, Attempt{Provider: name, Success: false, Latency: lat, Error: errTimeout.Error()}
			}
			return r.v, Attempt{Provider: name, Success: false, Latency: lat, Error: r.err.Error()}
		}
		return r.v, Attempt{Provider: name, Success: true, Latency: lat}
	case <-cctx.Done():
		lat := time.Since(start)
		var zero T
		return zero, Attempt{Provider: name, Success: false, Latency: lat, Error: errTimeout.Error()}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func newChainID() string { return uuid.NewString() }

// availableOrdered is the common first two steps of every orchestrator:
// discover available providers for cap, then order them.
func availableOrdered(ctx context.Context, reg *registry.Registry, cap model.Capability, priority []string, quotaOK bool) []registry.Provider {
	avail := reg.AvailableByCapability(ctx, cap)
	return registry.Order(avail, priority, quotaOK)
}
