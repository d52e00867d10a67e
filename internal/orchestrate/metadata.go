package orchestrate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/dedup"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// MetadataConfig configures spec.md §4.D.3.
type MetadataConfig struct {
	Priority              []string
	ProviderTimeout       time.Duration
	MaxSubjectOnlyProviders int // default 3
}

func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{ProviderTimeout: 15 * time.Second, MaxSubjectOnlyProviders: 3}
}

// MetadataOrchestrator implements spec.md §4.D.3: aggregate with parallel
// fetch, merging scalar-first-wins, longest-description, and unioned
// authors/subjects/external_ids.
type MetadataOrchestrator struct {
	reg *registry.Registry
	cfg MetadataConfig
	rec Recorder
}

func NewMetadataOrchestrator(reg *registry.Registry, cfg MetadataConfig, rec Recorder) *MetadataOrchestrator {
	if cfg.MaxSubjectOnlyProviders <= 0 {
		cfg.MaxSubjectOnlyProviders = 3
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &MetadataOrchestrator{reg: reg, cfg: cfg, rec: rec}
}

// MetadataResult matches spec.md §4.D.3's return shape.
type MetadataResult struct {
	Metadata        *model.Metadata
	ProviderResults []model.Metadata // one per metadata provider call that succeeded; the data may be empty
	SubjectResults  [][]string       // one per subject-only provider that returned data
	DurationMS      int64
	Errors          []string
}

// FetchMetadata runs every available metadata_enrichment provider
// concurrently, plus up to cfg.MaxSubjectOnlyProviders subject_enrichment
// providers, and merges the results per spec.md §4.D.3's rules.
func (o *MetadataOrchestrator) FetchMetadata(ctx context.Context, isbn13 string, quotaOK bool) MetadataResult {
	chainID := newChainID()
	start := time.Now()

	if o.reg.Quarantined(isbn13) {
		o.rec.RecordChain(ctx, Chain{ID: chainID, Attempts: nil})
		return MetadataResult{DurationMS: time.Since(start).Milliseconds(), Errors: []string{"isbn13 is quarantined: known to be un-enrichable"}}
	}

	metaProviders := availableOrdered(ctx, o.reg, model.CapMetadataEnrichment, o.cfg.Priority, quotaOK)
	subjectProviders := o.reg.AvailableByCapability(ctx, model.CapSubjectEnrichment)
	if len(subjectProviders) > o.cfg.MaxSubjectOnlyProviders {
		subjectProviders = subjectProviders[:o.cfg.MaxSubjectOnlyProviders]
	}

	var mu sync.Mutex
	var attempts []Attempt
	var errs []string

	// perMetaProvider/perSubjectProvider preserve provider priority order
	// (metaProviders/subjectProviders are already ranked by
	// availableOrdered/registry priority) by writing each goroutine's result
	// to its original index instead of appending on completion, mirroring
	// editions.go's perProvider indexing — mergeMetadata's "first non-empty
	// wins" scalar merge depends on this order, not completion order.
	perMetaProvider := make([]*model.Metadata, len(metaProviders))
	perSubjectProvider := make([][]string, len(subjectProviders))

	g, gctx := errgroup.WithContext(ctx)

	for i, p := range metaProviders {
		fetcher, ok := p.(providers.MetadataFetcher)
		if !ok {
			continue
		}
		i, p, fetcher := i, p, fetcher
		g.Go(func() error {
			md, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, fetcher.FetchMetadata)
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, attempt)
			if attempt.Success {
				stamped := withISBN(md, isbn13)
				perMetaProvider[i] = &stamped
			} else if attempt.Error != "" {
				errs = append(errs, p.Name()+": "+attempt.Error)
			}
			return nil
		})
	}

	for i, p := range subjectProviders {
		fetcher, ok := p.(providers.SubjectFetcher)
		if !ok {
			continue
		}
		i, p, fetcher := i, p, fetcher
		g.Go(func() error {
			subjects, attempt := tryProvider(gctx, p.Name(), o.cfg.ProviderTimeout, fetcher.FetchSubjects)
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, attempt)
			if attempt.Success && len(subjects) > 0 {
				perSubjectProvider[i] = subjects
			} else if attempt.Error != "" {
				errs = append(errs, p.Name()+": "+attempt.Error)
			}
			return nil
		})
	}

	_ = g.Wait() // per-provider failures are captured as attempts/errs, never escalated.

	var metaResults []model.Metadata
	for _, md := range perMetaProvider {
		if md != nil {
			metaResults = append(metaResults, *md)
		}
	}
	var subjectResults [][]string
	for _, subjects := range perSubjectProvider {
		if subjects != nil {
			subjectResults = append(subjectResults, subjects)
		}
	}

	merged := mergeMetadata(metaResults, subjectResults)

	successProvider := ""
	if merged != nil && len(metaResults) > 0 {
		successProvider = "aggregate" // aggregate mode has no single winner; chain still records all attempts.
	}
	o.rec.RecordChain(ctx, Chain{ID: chainID, Operation: "fetch_metadata", Attempts: attempts, SuccessfulProvider: successProvider, TotalLatency: time.Since(start)})

	return MetadataResult{
		Metadata:        merged,
		ProviderResults: metaResults,
		SubjectResults:  subjectResults,
		DurationMS:      time.Since(start).Milliseconds(),
		Errors:          errs,
	}
}

func withISBN(md model.Metadata, isbn13 string) model.Metadata {
	if md.ISBN13 == "" {
		md.ISBN13 = isbn13
	}
	return md
}

// mergeMetadata implements spec.md §4.D.3's merge rules. results is already
// in priority order (registration/priority order of the providers that
// produced them); scalar fields take the first non-empty value in that
// order.
func mergeMetadata(results []model.Metadata, subjectGroups [][]string) *model.Metadata {
	if len(results) == 0 {
		return nil
	}
	merged := &model.Metadata{}

	firstNonEmpty := func(get func(model.Metadata) string) string {
		for _, r := range results {
			if v := get(r); v != "" {
				return v
			}
		}
		return ""
	}
	firstNonZero := func(get func(model.Metadata) int) int {
		for _, r := range results {
			if v := get(r); v != 0 {
				return v
			}
		}
		return 0
	}

	merged.Title = firstNonEmpty(func(m model.Metadata) string { return m.Title })
	merged.Subtitle = firstNonEmpty(func(m model.Metadata) string { return m.Subtitle })
	merged.Publisher = firstNonEmpty(func(m model.Metadata) string { return m.Publisher })
	merged.Language = firstNonEmpty(func(m model.Metadata) string { return m.Language })
	merged.PublishedDate = firstNonEmpty(func(m model.Metadata) string { return m.PublishedDate })
	merged.ISBN13 = firstNonEmpty(func(m model.Metadata) string { return m.ISBN13 })
	merged.CoverURL = firstNonEmpty(func(m model.Metadata) string { return m.CoverURL })
	merged.PageCount = firstNonZero(func(m model.Metadata) int { return m.PageCount })

	for _, r := range results {
		if len(r.Description) > len(merged.Description) {
			merged.Description = r.Description
		}
	}

	altISBNs := dedup.NewStringSet()
	authors := dedup.NewStringSet()
	subjects := dedup.NewStringSet()
	externalIDs := map[string]string{}
	for _, r := range results {
		altISBNs.AddAll(r.AlternateISBN)
		authors.AddAll(r.Authors)
		subjects.AddAll(r.Subjects)
		for k, v := range r.ExternalIDs {
			externalIDs[k] = v // later provider wins for the same key, per spec.md §4.D.3.
		}
	}
	for _, g := range subjectGroups {
		subjects.AddAll(g)
	}
	merged.AlternateISBN = altISBNs.Values()
	merged.Authors = authors.Values()
	merged.Subjects = subjects.Values()
	if len(externalIDs) > 0 {
		merged.ExternalIDs = externalIDs
	}

	return merged
}
