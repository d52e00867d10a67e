package orchestrate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// RatingsMode selects fallback (first hit wins) or aggregate (highest
// confidence wins), per spec.md §4.D.7.
type RatingsMode string

const (
	RatingsModeFallback  RatingsMode = "fallback"
	RatingsModeAggregate RatingsMode = "aggregate"
)

// RatingsConfig configures spec.md §4.D.7.
type RatingsConfig struct {
	Mode            RatingsMode // default fallback
	Priority        []string
	ProviderTimeout time.Duration
}

func DefaultRatingsConfig() RatingsConfig {
	return RatingsConfig{Mode: RatingsModeFallback, ProviderTimeout: 15 * time.Second}
}

// RatingsOrchestrator implements spec.md §4.D.7.
type RatingsOrchestrator struct {
	reg *registry.Registry
	cfg RatingsConfig
	rec Recorder
}

func NewRatingsOrchestrator(reg *registry.Registry, cfg RatingsConfig, rec Recorder) *RatingsOrchestrator {
	if cfg.Mode == "" {
		cfg.Mode = RatingsModeFallback
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &RatingsOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// FetchRating returns the rating per cfg.Mode. The zero model.Rating is
// returned if no provider yielded one.
func (o *RatingsOrchestrator) FetchRating(ctx context.Context, isbn13 string, quotaOK bool) model.Rating {
	chainID := newChainID()
	start := time.Now()

	avail := availableOrdered(ctx, o.reg, model.CapRatings, o.cfg.Priority, quotaOK)

	var attempts []Attempt
	var best model.Rating

	if o.cfg.Mode == RatingsModeFallback {
		for _, p := range avail {
			fetcher, ok := p.(providers.RatingFetcher)
			if !ok {
				continue
			}
			rating, attempt := tryProvider(ctx, p.Name(), o.cfg.ProviderTimeout, fetcher.FetchRating)
			attempts = append(attempts, attempt)
			if attempt.Success && rating.Source != "" {
				best = rating
				break
			}
		}
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range avail {
			fetcher, ok := p.(providers.RatingFetcher)
			if !ok {
				continue
			}
			p, fetcher := p, fetcher
			g.Go(func() error {
				rating, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, fetcher.FetchRating)
				mu.Lock()
				defer mu.Unlock()
				attempts = append(attempts, attempt)
				if attempt.Success && rating.Source != "" && rating.Confidence > best.Confidence {
					best = rating
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_rating", Attempts: attempts, SuccessfulProvider: best.Source, TotalLatency: time.Since(start)})
	return best
}
