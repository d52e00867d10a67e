package orchestrate

import (
	"context"
	"time"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// CoverConfig configures spec.md §4.D.2: fallback, free-first ordering by
// default so paid quota is spared.
type CoverConfig struct {
	Priority        []string // empty means free-first-then-paid, not tier-default ordering
	ProviderTimeout time.Duration
}

func DefaultCoverConfig() CoverConfig {
	return CoverConfig{ProviderTimeout: 10 * time.Second}
}

// CoverOrchestrator implements spec.md §4.D.2: a single URL suffices, no
// aggregation.
type CoverOrchestrator struct {
	reg *registry.Registry
	cfg CoverConfig
	rec Recorder
}

func NewCoverOrchestrator(reg *registry.Registry, cfg CoverConfig, rec Recorder) *CoverOrchestrator {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &CoverOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// CoverResult is the outcome of a cover fetch.
type CoverResult struct {
	URL    string
	Size   string
	Source string
}

// FetchCover orders free providers before paid regardless of quota state
// (spec.md §4.D.2 "free providers first ... then paid fallback"), unless an
// explicit priority is supplied.
func (o *CoverOrchestrator) FetchCover(ctx context.Context, isbn13 string) CoverResult {
	chainID := newChainID()
	start := time.Now()

	var avail []registry.Provider
	if len(o.cfg.Priority) > 0 {
		avail = registry.Order(o.reg.AvailableByCapability(ctx, model.CapCoverImages), o.cfg.Priority, true)
	} else {
		avail = freeFirst(o.reg.AvailableByCapability(ctx, model.CapCoverImages))
	}

	var attempts []Attempt
	for _, p := range avail {
		fetcher, ok := p.(providers.CoverFetcher)
		if !ok {
			continue
		}
		result, attempt := tryProvider(ctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) (coverURL, error) {
			u, size, err := fetcher.FetchCover(cctx, isbn13)
			return coverURL{url: u, size: size}, err
		})
		attempts = append(attempts, attempt)
		if attempt.Success && result.url != "" {
			o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_cover", Attempts: attempts, SuccessfulProvider: p.Name(), TotalLatency: time.Since(start)})
			return CoverResult{URL: result.url, Size: result.size, Source: p.Name()}
		}
	}

	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_cover", Attempts: attempts, TotalLatency: time.Since(start)})
	return CoverResult{}
}

type coverURL struct {
	url  string
	size string
}

func freeFirst(ps []registry.Provider) []registry.Provider {
	var free, other []registry.Provider
	for _, p := range ps {
		if p.Tier() == model.TierFree {
			free = append(free, p)
		} else {
			other = append(other, p)
		}
	}
	return append(free, other...)
}
