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

// EditionsConfig configures spec.md §4.D.5.
type EditionsConfig struct {
	Priority        []string
	ProviderTimeout time.Duration
}

func DefaultEditionsConfig() EditionsConfig {
	return EditionsConfig{ProviderTimeout: 15 * time.Second}
}

// EditionsOrchestrator implements spec.md §4.D.5: aggregate across all
// available providers, deduped by ISBN keeping the highest-priority
// provider's variant and recording the rest as additional sources.
type EditionsOrchestrator struct {
	reg *registry.Registry
	cfg EditionsConfig
	rec Recorder
}

func NewEditionsOrchestrator(reg *registry.Registry, cfg EditionsConfig, rec Recorder) *EditionsOrchestrator {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &EditionsOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// FetchEditionVariants runs every available edition_variants provider
// concurrently and merges by ISBN.
func (o *EditionsOrchestrator) FetchEditionVariants(ctx context.Context, isbn13 string, quotaOK bool) []model.EditionVariant {
	chainID := newChainID()
	start := time.Now()

	avail := availableOrdered(ctx, o.reg, model.CapEditionVariants, o.cfg.Priority, quotaOK)

	var mu sync.Mutex
	var attempts []Attempt
	// perProvider preserves provider priority order so the dedup merge below
	// can prefer the first (highest-priority) provider deterministically.
	perProvider := make([][]model.EditionVariant, len(avail))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range avail {
		fetcher, ok := p.(providers.EditionVariantFetcher)
		if !ok {
			continue
		}
		i, p, fetcher := i, p, fetcher
		g.Go(func() error {
			variants, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, fetcher.FetchEditionVariants)
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, attempt)
			if attempt.Success {
				perProvider[i] = variants
			}
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeEditionVariants(perProvider)

	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_edition_variants", Attempts: attempts, TotalLatency: time.Since(start)})
	return merged
}

// mergeEditionVariants dedupes by ISBN in provider-priority order: the
// variant's fields come from the first (highest-priority) provider that
// reported it; every provider that also reported the same ISBN is appended
// to Sources.
func mergeEditionVariants(perProvider [][]model.EditionVariant) []model.EditionVariant {
	byISBN := map[string]*model.EditionVariant{}
	var order []string

	for _, variants := range perProvider {
		for _, v := range variants {
			existing, ok := byISBN[v.ISBN]
			if !ok {
				cp := v
				byISBN[v.ISBN] = &cp
				order = append(order, v.ISBN)
				continue
			}
			existing.Sources = append(existing.Sources, v.Sources...)
		}
	}

	out := make([]model.EditionVariant, 0, len(order))
	for _, isbn := range order {
		out = append(out, *byISBN[isbn])
	}
	return out
}
