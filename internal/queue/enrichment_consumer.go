package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jukasdrj/alexandria/internal/cachekv"
	"github.com/jukasdrj/alexandria/internal/isbn"
	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

// notFoundTTL is the negative-result cache window (spec.md §4.G.2 step 2,
// "24 h TTL").
const notFoundTTL = 24 * time.Hour

// EnrichmentStore is the narrow persistence surface the enrichment
// consumer needs.
type EnrichmentStore interface {
	EnrichWork(ctx context.Context, w model.Work, tier model.Tier, provider string, confidenceOverride bool) error
	EnrichEdition(ctx context.Context, e model.Edition, tier model.Tier, confidenceOverride bool) error
}

// EnrichmentAnalytics receives fire-and-forget batch-call savings (spec.md
// §4.G.2 step 3, "record that N-1 nominal calls were saved").
type EnrichmentAnalytics interface {
	RecordBatchCallSavings(ctx context.Context, batchSize, callsSaved int)
}

// EnrichmentConsumer implements spec.md §4.G.2.
type EnrichmentConsumer struct {
	broker    Broker
	paid      providers.BatchMetadataFetcher
	notFound  cachekv.KV
	store     EnrichmentStore
	analytics EnrichmentAnalytics

	BatchSize  int
	MaxRetries int
}

func NewEnrichmentConsumer(broker Broker, paid providers.BatchMetadataFetcher, notFound cachekv.KV, store EnrichmentStore, analytics EnrichmentAnalytics) *EnrichmentConsumer {
	return &EnrichmentConsumer{
		broker:     broker,
		paid:       paid,
		notFound:   notFound,
		store:      store,
		analytics:  analytics,
		BatchSize:  100,
		MaxRetries: DefaultMaxRetries,
	}
}

// RunOnce drains one batch. The database connection backing store is
// assumed to be scoped per-call by the caller's pool; this method itself
// never holds a handle open past its own return, satisfying spec.md
// §4.G.2's "scoped per-batch DB handle... closed on all exit paths."
func (c *EnrichmentConsumer) RunOnce(ctx context.Context) error {
	msgs, err := c.broker.Dequeue(ctx, QueueEnrichment, c.BatchSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	pending := make([]Message, 0, len(msgs))
	isbnToMsg := make(map[string]Message, len(msgs))
	for _, msg := range msgs {
		normalized, ok := isbn.Normalize(msg.Job.ISBN)
		if !ok {
			c.ackOrLog(ctx, msg.ID) // invalid ISBN: ack, no retry.
			continue
		}
		if c.isKnownNotFound(ctx, normalized) {
			c.ackOrLog(ctx, msg.ID)
			continue
		}
		msg.Job.ISBN = normalized
		isbnToMsg[normalized] = msg
		pending = append(pending, msg)
	}
	if len(pending) == 0 {
		return nil
	}

	isbns := make([]string, 0, len(pending))
	for isbn13 := range isbnToMsg {
		isbns = append(isbns, isbn13)
	}

	results, err := c.paid.FetchMetadataBatch(ctx, isbns)
	if err != nil {
		// The whole batch call failed: every message is retried, not acked.
		for _, msg := range pending {
			c.retryOrLog(ctx, msg.ID)
		}
		return nil
	}

	if c.analytics != nil {
		c.analytics.RecordBatchCallSavings(ctx, len(isbns), len(isbns)-1)
	}

	// Iterate pending, not isbnToMsg: two messages in the same batch can
	// normalize to the same ISBN-13, and isbnToMsg only keeps the last one
	// for that key. Every individual message still needs its own ack/retry
	// decision, the same way the upstream-failure loop above already does.
	for _, msg := range pending {
		isbn13 := msg.Job.ISBN
		md, found := results[isbn13]
		if !found {
			c.markNotFound(ctx, isbn13)
			c.ackOrLog(ctx, msg.ID)
			continue
		}
		if err := c.persist(ctx, isbn13, md); err != nil {
			logging.Log(ctx).Warn("queue: enrichment persist failed", "isbn", isbn13, "err", err)
			c.retryOrLog(ctx, msg.ID)
			continue
		}
		c.ackOrLog(ctx, msg.ID)
	}
	return nil
}

func (c *EnrichmentConsumer) persist(ctx context.Context, isbn13 string, md model.Metadata) error {
	workKey := "w:" + isbn13
	w := model.Work{
		WorkKey:     workKey,
		Title:       md.Title,
		Subtitle:    md.Subtitle,
		Description: md.Description,
		Subjects:    md.Subjects,
		ExternalIDs: md.ExternalIDs,
	}
	if err := c.store.EnrichWork(ctx, w, model.TierPaid, "paid", false); err != nil {
		return fmt.Errorf("enrich_work: %w", err)
	}

	e := model.Edition{
		ISBN13:        isbn13,
		WorkKey:       workKey,
		Title:         md.Title,
		Publisher:     md.Publisher,
		PublishedDate: md.PublishedDate,
		PageCount:     md.PageCount,
		Language:      md.Language,
		AlternateISBN: md.AlternateISBN,
		ExternalIDs:   md.ExternalIDs,
	}
	if err := c.store.EnrichEdition(ctx, e, model.TierPaid, false); err != nil {
		return fmt.Errorf("enrich_edition: %w", err)
	}

	if md.CoverURL != "" {
		if err := c.broker.Enqueue(ctx, QueueCover, model.EnrichmentJob{
			Kind:        model.JobEnrichCover,
			ISBN:        isbn13,
			WorkKey:     workKey,
			ProviderURL: md.CoverURL,
			Priority:    model.PriorityNormal,
		}); err != nil {
			logging.Log(ctx).Warn("queue: cover enqueue failed", "isbn", isbn13, "err", err)
		}
	}
	return nil
}

func (c *EnrichmentConsumer) isKnownNotFound(ctx context.Context, isbn13 string) bool {
	if c.notFound == nil {
		return false
	}
	_, ok := c.notFound.Get(ctx, notFoundKey(isbn13))
	return ok
}

func (c *EnrichmentConsumer) markNotFound(ctx context.Context, isbn13 string) {
	if c.notFound == nil {
		return
	}
	c.notFound.Set(ctx, notFoundKey(isbn13), []byte{1}, notFoundTTL)
}

func notFoundKey(isbn13 string) string { return "nf:" + isbn13 }

func (c *EnrichmentConsumer) ackOrLog(ctx context.Context, id int64) {
	if err := c.broker.Ack(ctx, QueueEnrichment, id); err != nil {
		logging.Log(ctx).Warn("queue: enrichment ack failed", "id", id, "err", err)
	}
}

func (c *EnrichmentConsumer) retryOrLog(ctx context.Context, id int64) {
	if err := c.broker.Retry(ctx, QueueEnrichment, id, c.MaxRetries); err != nil {
		logging.Log(ctx).Warn("queue: enrichment retry failed", "id", id, "err", err)
	}
}
