package queue

import (
	"context"
	"fmt"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// BackfillStore is the narrow persistence surface the backfill consumer
// needs, shared with EnrichmentStore.
type BackfillStore interface {
	EnrichWork(ctx context.Context, w model.Work, tier model.Tier, provider string, confidenceOverride bool) error
	EnrichEdition(ctx context.Context, e model.Edition, tier model.Tier, confidenceOverride bool) error
}

// Quarantine is consulted before dispatching an author-bibliography job,
// mirroring the teacher's unknownAuthor(authorID) short-circuit generalized
// into internal/registry.
type Quarantine interface {
	Quarantined(key string) bool
}

// BackfillConsumer drains QueueBackfill: EnrichAuthorBibliography jobs
// (spec.md §4.H "per-tier author bibliography harvests") and BackfillMonth
// jobs (spec.md §4.H "per-month ingestion for recent releases").
type BackfillConsumer struct {
	broker     Broker
	reg        *registry.Registry
	quarantine Quarantine
	store      BackfillStore

	BatchSize  int
	MaxRetries int
}

func NewBackfillConsumer(broker Broker, reg *registry.Registry, quarantine Quarantine, store BackfillStore) *BackfillConsumer {
	return &BackfillConsumer{
		broker:     broker,
		reg:        reg,
		quarantine: quarantine,
		store:      store,
		BatchSize:  20,
		MaxRetries: DefaultMaxRetries,
	}
}

// RunOnce drains one batch from QueueBackfill.
func (c *BackfillConsumer) RunOnce(ctx context.Context) error {
	msgs, err := c.broker.Dequeue(ctx, QueueBackfill, c.BatchSize)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		switch msg.Job.Kind {
		case model.JobEnrichBibliography:
			c.runBibliography(ctx, msg)
		case model.JobBackfillMonth:
			c.runBackfillMonth(ctx, msg)
		default:
			logging.Log(ctx).Warn("queue: backfill consumer got unexpected job kind", "kind", msg.Job.Kind)
			c.ackOrLog(ctx, msg.ID)
		}
	}
	return nil
}

func (c *BackfillConsumer) runBibliography(ctx context.Context, msg Message) {
	name := msg.Job.AuthorName
	if c.quarantine != nil && c.quarantine.Quarantined(name) {
		c.ackOrLog(ctx, msg.ID)
		return
	}

	maxPages := msg.Job.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	var succeeded bool
	for _, p := range c.reg.AvailableByCapability(ctx, model.CapAuthorBibliography) {
		fetcher, ok := p.(providers.AuthorBibliographyFetcher)
		if !ok {
			continue
		}
		editions, err := fetcher.FetchAuthorBibliography(ctx, name, maxPages)
		if err != nil {
			logging.Log(ctx).Warn("queue: bibliography fetch failed", "author", name, "provider", p.Name(), "err", err)
			continue
		}
		if len(editions) == 0 {
			continue
		}
		if err := c.persistBibliography(ctx, p.Name(), editions); err != nil {
			logging.Log(ctx).Warn("queue: bibliography persist failed", "author", name, "err", err)
			continue
		}
		succeeded = true
		break // first provider that returns a bibliography wins; providers are tried in registration order.
	}

	if succeeded {
		c.ackOrLog(ctx, msg.ID)
		return
	}
	c.retryOrLog(ctx, msg.ID)
}

func (c *BackfillConsumer) persistBibliography(ctx context.Context, providerName string, editions []model.Edition) error {
	for _, e := range editions {
		if e.WorkKey == "" {
			e.WorkKey = "w:" + e.ISBN13
		}
		w := model.Work{WorkKey: e.WorkKey, Title: e.Title}
		if err := c.store.EnrichWork(ctx, w, model.TierPaid, providerName, false); err != nil {
			return fmt.Errorf("enrich_work: %w", err)
		}
		if err := c.store.EnrichEdition(ctx, e, model.TierPaid, false); err != nil {
			return fmt.Errorf("enrich_edition: %w", err)
		}
	}
	return nil
}

// runBackfillMonth acks and logs: no provider in this system's roster
// exposes a catalog-by-month listing capability (the teacher's single
// upstream has no such endpoint either, and none of the free/paid adapters
// this spec wires in expose one). Rather than retry forever against a
// capability nothing can serve, the job is acked with a warning so an
// operator can see it's a no-op and the cursor in internal/scheduler still
// advances normally.
func (c *BackfillConsumer) runBackfillMonth(ctx context.Context, msg Message) {
	logging.Log(ctx).Warn("queue: backfill_month has no wired catalog-by-month provider, dropping", "year", msg.Job.Year, "month", msg.Job.Month)
	c.ackOrLog(ctx, msg.ID)
}

func (c *BackfillConsumer) ackOrLog(ctx context.Context, id int64) {
	if err := c.broker.Ack(ctx, QueueBackfill, id); err != nil {
		logging.Log(ctx).Warn("queue: backfill ack failed", "id", id, "err", err)
	}
}

func (c *BackfillConsumer) retryOrLog(ctx context.Context, id int64) {
	if err := c.broker.Retry(ctx, QueueBackfill, id, c.MaxRetries); err != nil {
		logging.Log(ctx).Warn("queue: backfill retry failed", "id", id, "err", err)
	}
}
