package orchestrate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/dedup"
	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// BookGenMode selects how AI providers are invoked.
type BookGenMode string

const (
	// ModeConcurrent runs all AI providers in parallel, the spec.md §4.D.4
	// default because provider outputs "rarely overlap" (§9 open question c).
	ModeConcurrent BookGenMode = "concurrent"
	// ModeSequential runs providers one at a time in priority order,
	// stopping at the first provider that returns a non-empty list.
	ModeSequential BookGenMode = "sequential"
)

// BookGenConfig configures spec.md §4.D.4.
type BookGenConfig struct {
	Mode                  BookGenMode
	Priority              []string
	ProviderTimeout       time.Duration // default 60s
	DeduplicationThreshold float64       // default 0.6
}

func DefaultBookGenConfig() BookGenConfig {
	return BookGenConfig{Mode: ModeConcurrent, ProviderTimeout: 60 * time.Second, DeduplicationThreshold: 0.6}
}

// BookGenOrchestrator implements spec.md §4.D.4.
type BookGenOrchestrator struct {
	reg *registry.Registry
	cfg BookGenConfig
	rec Recorder
}

func NewBookGenOrchestrator(reg *registry.Registry, cfg BookGenConfig, rec Recorder) *BookGenOrchestrator {
	if cfg.DeduplicationThreshold == 0 {
		cfg.DeduplicationThreshold = 0.6
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &BookGenOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// BookGenResult matches spec.md §8 seed scenario 5's reporting shape.
type BookGenResult struct {
	Books            []model.GeneratedBook
	DuplicatesRemoved int
	ProvidersAttempted []string
}

// GenerateBooks pre-filters providers by availability, logs the attempted
// set, runs them per cfg.Mode, then deduplicates by normalized title
// similarity (spec.md §4.D.4). Total failure (empty result) occurs only if
// no provider returned a non-empty list.
func (o *BookGenOrchestrator) GenerateBooks(ctx context.Context, prompt string, count int, quotaOK bool) BookGenResult {
	chainID := newChainID()
	start := time.Now()

	avail := availableOrdered(ctx, o.reg, model.CapBookGeneration, o.cfg.Priority, quotaOK)
	names := make([]string, 0, len(avail))
	for _, p := range avail {
		names = append(names, p.Name())
	}
	logging.Log(ctx).Debug("book generation: providers attempted", "providers", names)

	var attempts []Attempt
	var raw []model.GeneratedBook

	switch o.cfg.Mode {
	case ModeSequential:
		attempts, raw = o.runSequential(ctx, avail, prompt, count)
	default:
		attempts, raw = o.runConcurrent(ctx, avail, prompt, count)
	}

	deduper := dedup.NewTitleDeduper(o.cfg.DeduplicationThreshold)
	var out []model.GeneratedBook
	for _, b := range raw {
		if deduper.Accept(b.Title) {
			out = append(out, b)
		}
	}

	successProvider := ""
	if len(out) > 0 {
		successProvider = "aggregate"
	}
	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "generate_books", Attempts: attempts, SuccessfulProvider: successProvider, TotalLatency: time.Since(start)})

	return BookGenResult{
		Books:              out,
		DuplicatesRemoved:  len(raw) - len(out),
		ProvidersAttempted: names,
	}
}

func (o *BookGenOrchestrator) runConcurrent(ctx context.Context, avail []registry.Provider, prompt string, count int) ([]Attempt, []model.GeneratedBook) {
	var mu sync.Mutex
	var attempts []Attempt
	var books []model.GeneratedBook

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range avail {
		gen, ok := p.(providers.BookGenerator)
		if !ok {
			continue
		}
		p := p
		gen := gen
		g.Go(func() error {
			result, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) ([]model.GeneratedBook, error) {
				return gen.GenerateBooks(cctx, prompt, count)
			})
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, attempt)
			if attempt.Success {
				books = append(books, result...)
			} else if attempt.Error != "" {
				logging.Log(ctx).Warn("book generation: provider failed", "provider", p.Name(), "err", attempt.Error)
			}
			return nil
		})
	}
	_ = g.Wait()
	return attempts, books
}

func (o *BookGenOrchestrator) runSequential(ctx context.Context, avail []registry.Provider, prompt string, count int) ([]Attempt, []model.GeneratedBook) {
	var attempts []Attempt
	for _, p := range avail {
		gen, ok := p.(providers.BookGenerator)
		if !ok {
			continue
		}
		result, attempt := tryProvider(ctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) ([]model.GeneratedBook, error) {
			return gen.GenerateBooks(cctx, prompt, count)
		})
		attempts = append(attempts, attempt)
		if attempt.Success && len(result) > 0 {
			return attempts, result
		}
		if attempt.Error != "" {
			logging.Log(ctx).Warn("book generation: provider failed", "provider", p.Name(), "err", attempt.Error)
		}
	}
	return attempts, nil
}
