package orchestrate

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// ExternalIDMode selects fallback or aggregate merging for spec.md §4.D.6.
type ExternalIDMode string

const (
	ExternalIDModeAggregate ExternalIDMode = "aggregate"
	ExternalIDModeFallback  ExternalIDMode = "fallback"
)

// ExternalIDConfig configures spec.md §4.D.6.
type ExternalIDConfig struct {
	Mode            ExternalIDMode // default aggregate
	Priority        []string
	ProviderTimeout time.Duration
}

func DefaultExternalIDConfig() ExternalIDConfig {
	return ExternalIDConfig{Mode: ExternalIDModeAggregate, ProviderTimeout: 15 * time.Second}
}

// ExternalIDOrchestrator implements spec.md §4.D.6.
type ExternalIDOrchestrator struct {
	reg *registry.Registry
	cfg ExternalIDConfig
	rec Recorder
}

func NewExternalIDOrchestrator(reg *registry.Registry, cfg ExternalIDConfig, rec Recorder) *ExternalIDOrchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ExternalIDModeAggregate
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &ExternalIDOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// IDEntry is one merged external-ID value.
type IDEntry struct {
	Value      string
	Confidence int
	Sources    []string
}

// ExternalIDResult maps ID type (the provider's namespaced key, e.g.
// "goodreads_id") to its merged entry.
type ExternalIDResult map[string]IDEntry

// providerIDs pairs one provider's raw results with its self-reported
// confidence and priority rank, used to resolve conflicts deterministically.
type providerIDs struct {
	name       string
	ids        map[string]string
	confidence int
	rank       int // lower is higher priority
}

// FetchExternalIDs runs every available enhanced_external_ids provider and
// merges per cfg.Mode.
func (o *ExternalIDOrchestrator) FetchExternalIDs(ctx context.Context, isbn13 string, quotaOK bool) ExternalIDResult {
	chainID := newChainID()
	start := time.Now()

	avail := availableOrdered(ctx, o.reg, model.CapEnhancedExternalIDs, o.cfg.Priority, quotaOK)

	var attempts []Attempt
	var result ExternalIDResult

	if o.cfg.Mode == ExternalIDModeFallback {
		for _, p := range avail {
			fetcher, ok := p.(providers.ExternalIDFetcher)
			if !ok {
				continue
			}
			ids, attempt := tryProvider(ctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) (map[string]string, error) {
				m, _, err := fetcher.FetchExternalIDs(cctx, isbn13)
				return m, err
			})
			attempts = append(attempts, attempt)
			if attempt.Success && len(ids) > 0 {
				result = entriesFrom(ids, p.Name())
				break
			}
		}
	} else {
		var mu sync.Mutex
		var collected []providerIDs
		g, gctx := errgroup.WithContext(ctx)
		for rank, p := range avail {
			fetcher, ok := p.(providers.ExternalIDFetcher)
			if !ok {
				continue
			}
			rank, p, fetcher := rank, p, fetcher
			g.Go(func() error {
				pair, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, func(cctx context.Context) (idConf, error) {
					ids, conf, err := fetcher.FetchExternalIDs(cctx, isbn13)
					return idConf{ids: ids, conf: conf}, err
				})
				mu.Lock()
				defer mu.Unlock()
				attempts = append(attempts, attempt)
				if attempt.Success && len(pair.ids) > 0 {
					collected = append(collected, providerIDs{name: p.Name(), ids: pair.ids, confidence: pair.conf, rank: rank})
				}
				return nil
			})
		}
		_ = g.Wait()
		result = mergeExternalIDs(ctx, collected)
	}

	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_external_ids", Attempts: attempts, TotalLatency: time.Since(start)})
	return result
}

type idConf struct {
	ids  map[string]string
	conf int
}

func entriesFrom(ids map[string]string, source string) ExternalIDResult {
	out := make(ExternalIDResult, len(ids))
	for k, v := range ids {
		out[k] = IDEntry{Value: v, Sources: []string{source}}
	}
	return out
}

// mergeExternalIDs implements spec.md §4.D.6's conflict policy:
// agreement unions source names and raises confidence to the mean of
// contributors (rounded); disagreement prefers the highest-confidence
// provider's value (ties broken by provider priority rank) and logs the
// conflict, per the open question (b) resolution documented alongside.
func mergeExternalIDs(ctx context.Context, collected []providerIDs) ExternalIDResult {
	type candidate struct {
		value      string
		confidence int
		rank       int
		source     string
	}
	byType := map[string][]candidate{}

	for _, p := range collected {
		for idType, value := range p.ids {
			byType[idType] = append(byType[idType], candidate{value: value, confidence: p.confidence, rank: p.rank, source: p.name})
		}
	}

	result := make(ExternalIDResult, len(byType))
	for idType, cands := range byType {
		agreeing := map[string][]candidate{}
		for _, c := range cands {
			agreeing[c.value] = append(agreeing[c.value], c)
		}

		if len(agreeing) == 1 {
			group := cands
			sum, sources := 0, make([]string, 0, len(group))
			for _, c := range group {
				sum += c.confidence
				sources = append(sources, c.source)
			}
			result[idType] = IDEntry{Value: group[0].value, Confidence: round(sum, len(group)), Sources: sources}
			continue
		}

		// Disagreement: prefer the highest-confidence value; ties broken by
		// provider priority rank (lower rank wins).
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].confidence != cands[j].confidence {
				return cands[i].confidence > cands[j].confidence
			}
			return cands[i].rank < cands[j].rank
		})
		winner := cands[0]
		logging.Log(ctx).Warn("external ID conflict", "id_type", idType, "winner", winner.source, "winner_value", winner.value, "candidates", len(cands))
		group := agreeing[winner.value]
		sum, sources := 0, make([]string, 0, len(group))
		for _, c := range group {
			sum += c.confidence
			sources = append(sources, c.source)
		}
		result[idType] = IDEntry{Value: winner.value, Confidence: round(sum, len(group)), Sources: sources}
	}
	return result
}

func round(sum, n int) int {
	if n == 0 {
		return 0
	}
	return (sum + n/2) / n
}
