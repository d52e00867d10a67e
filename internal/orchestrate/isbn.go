package orchestrate

import (
	"context"
	"time"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// ISBNConfig holds the explicit, immutable behavior for ISBN resolution, per
// spec.md §9 "Config as explicit records": no runtime mutation, construct a
// new Orchestrator to change behavior.
type ISBNConfig struct {
	Priority       []string // explicit provider priority; empty falls back to tier ordering
	ProviderTimeout time.Duration
}

// DefaultISBNConfig matches spec.md §4.D.1's default timeout of 15s.
func DefaultISBNConfig() ISBNConfig {
	return ISBNConfig{ProviderTimeout: 15 * time.Second}
}

// ISBNOrchestrator implements spec.md §4.D.1: fallback over isbn_resolution
// providers, first non-null ISBN wins.
type ISBNOrchestrator struct {
	reg    *registry.Registry
	cfg    ISBNConfig
	rec    Recorder
}

func NewISBNOrchestrator(reg *registry.Registry, cfg ISBNConfig, rec Recorder) *ISBNOrchestrator {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &ISBNOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// ISBNResult is the outcome of a resolution call.
type ISBNResult struct {
	ISBN       string
	Confidence int
	// Source is the winning provider name, "none" (no providers available),
	// or "all-failed" (every provider attempted and failed), per spec.md
	// §4.D.1. "error" is never reported: a provider error counts as a failed
	// attempt and the chain moves on.
	Source string
}

func (o *ISBNOrchestrator) ResolveISBN(ctx context.Context, title, author string, quotaOK bool) ISBNResult {
	chainID := newChainID()
	start := time.Now()

	avail := availableOrdered(ctx, o.reg, model.CapISBNResolution, o.cfg.Priority, quotaOK)
	if len(avail) == 0 {
		o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "resolve_isbn", TotalLatency: time.Since(start)})
		return ISBNResult{Source: "none"}
	}

	var attempts []Attempt
	attempted := false
	for _, p := range avail {
		resolver, ok := p.(providers.ISBNResolver)
		if !ok {
			continue
		}
		attempted = true
		isbn, conf, attempt := tryProvider(ctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) (isbnConf, error) {
			i, c, err := resolver.ResolveISBN(cctx, title, author)
			return isbnConf{isbn: i, conf: c}, err
		})
		attempts = append(attempts, attempt)
		if attempt.Success && isbn.isbn != "" {
			o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "resolve_isbn", Attempts: attempts, SuccessfulProvider: p.Name(), TotalLatency: time.Since(start)})
			return ISBNResult{ISBN: isbn.isbn, Confidence: isbn.conf, Source: p.Name()}
		}
	}

	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "resolve_isbn", Attempts: attempts, TotalLatency: time.Since(start)})
	if !attempted {
		return ISBNResult{Source: "none"}
	}
	return ISBNResult{Source: "all-failed"}
}

type isbnConf struct {
	isbn string
	conf int
}
