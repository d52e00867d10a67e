package queue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/cover"
	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

// maxConcurrentCoverJobs bounds per-batch fan-out, mirroring the teacher's
// errgroup.Group{SetLimit(15)} bound on author-refresh/denormalization
// goroutines so one huge batch can't exhaust the worker.
const maxConcurrentCoverJobs = 15

// BlobExistence reports whether a blob key has already been uploaded,
// letting the cover consumer skip reprocessing (spec.md §4.G.1 step 1).
type BlobExistence interface {
	Exists(ctx context.Context, key string) bool
}

// EditionCoverStore is the narrow persistence surface the cover consumer
// needs: best-effort update of an Edition's cover URLs.
type EditionCoverStore interface {
	EnrichEdition(ctx context.Context, e model.Edition, tier model.Tier, confidenceOverride bool) error
}

// CoverAnalytics receives fire-and-forget cover-processing outcomes.
type CoverAnalytics interface {
	RecordCoverProcessed(ctx context.Context, isbn13 string, m cover.Metrics, status cover.Status)
}

// CoverConsumer implements spec.md §4.G.1.
type CoverConsumer struct {
	broker    Broker
	processor *cover.Processor
	exists    BlobExistence
	paid      providers.CoverFetcher // mints a fresh signed URL on 401/403.
	store     EditionCoverStore
	analytics CoverAnalytics

	BatchSize      int
	MaxRetries     int
	MaxConcurrency int
}

// NewCoverConsumer wires the dependencies spec.md §4.G.1 names. exists,
// paid, store, and analytics may be nil, in which case their respective
// optimizations/side effects are skipped (useful for tests exercising the
// retry-on-auth-failure path in isolation).
func NewCoverConsumer(broker Broker, processor *cover.Processor, exists BlobExistence, paid providers.CoverFetcher, store EditionCoverStore, analytics CoverAnalytics) *CoverConsumer {
	return &CoverConsumer{
		broker:         broker,
		processor:      processor,
		exists:         exists,
		paid:           paid,
		store:          store,
		analytics:      analytics,
		BatchSize:      10,
		MaxRetries:     DefaultMaxRetries,
		MaxConcurrency: maxConcurrentCoverJobs,
	}
}

// RunOnce dequeues and processes one batch, all-settled: every message is
// processed concurrently, bounded to MaxConcurrency in flight, but
// acked/retried independently of its peers. processOne never returns an
// error (ack/retry decisions are recorded as a side effect), so the
// errgroup is used purely for its bounded fan-out, not error propagation.
func (c *CoverConsumer) RunOnce(ctx context.Context) error {
	msgs, err := c.broker.Dequeue(ctx, QueueCover, c.BatchSize)
	if err != nil {
		return err
	}

	limit := c.MaxConcurrency
	if limit <= 0 {
		limit = maxConcurrentCoverJobs
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			c.processOne(gctx, msg)
			return nil
		})
	}
	return g.Wait()
}

func (c *CoverConsumer) processOne(ctx context.Context, msg Message) {
	job := msg.Job
	isbn13 := job.ISBN

	if c.alreadyCached(ctx, isbn13) {
		c.ackOrLog(ctx, msg.ID)
		return
	}

	result := c.processor.Process(ctx, isbn13, job.ProviderURL)

	if result.Status == cover.StatusRetryableAuth && c.paid != nil && cover.IsPaidSourceURL(job.ProviderURL) {
		freshURL, _, err := c.paid.FetchCover(ctx, isbn13)
		if err == nil && freshURL != "" {
			result = c.processor.Process(ctx, isbn13, freshURL)
		}
	}

	if c.analytics != nil {
		c.analytics.RecordCoverProcessed(ctx, isbn13, result.Metrics, result.Status)
	}

	switch result.Status {
	case cover.StatusOK:
		c.updateEdition(ctx, isbn13, result)
		c.ackOrLog(ctx, msg.ID)
	case cover.StatusRetryableAuth:
		c.retryOrLog(ctx, msg.ID)
	default:
		// spec.md §4.G.1: "Ack on success or on definitive 'no cover
		// available'. Retry on transient exceptions." A non-auth error from
		// Process (bad host, bad format, undersized/oversized download) is
		// definitive for this provider_url; retrying would reproduce it.
		c.ackOrLog(ctx, msg.ID)
	}
}

func (c *CoverConsumer) alreadyCached(ctx context.Context, isbn13 string) bool {
	if c.exists == nil {
		return false
	}
	for _, size := range []cover.Size{cover.SizeLarge, cover.SizeMedium, cover.SizeSmall} {
		if !c.exists.Exists(ctx, cover.BlobKey(isbn13, size)) {
			return false
		}
	}
	return true
}

func (c *CoverConsumer) updateEdition(ctx context.Context, isbn13 string, result cover.Result) {
	if c.store == nil {
		return
	}
	e := model.Edition{
		ISBN13: isbn13,
		CoverURLs: model.CoverURLs{
			Large:  result.URLs[cover.SizeLarge],
			Medium: result.URLs[cover.SizeMedium],
			Small:  result.URLs[cover.SizeSmall],
		},
	}
	if err := c.store.EnrichEdition(ctx, e, model.TierFree, false); err != nil {
		// Best-effort: a DB error here never fails the cover ack.
		logging.Log(ctx).Warn("queue: cover edition update failed", "isbn", isbn13, "err", err)
	}
}

func (c *CoverConsumer) ackOrLog(ctx context.Context, id int64) {
	if err := c.broker.Ack(ctx, QueueCover, id); err != nil {
		logging.Log(ctx).Warn("queue: cover ack failed", "id", id, "err", err)
	}
}

func (c *CoverConsumer) retryOrLog(ctx context.Context, id int64) {
	if err := c.broker.Retry(ctx, QueueCover, id, c.MaxRetries); err != nil {
		logging.Log(ctx).Warn("queue: cover retry failed", "id", id, "err", err)
	}
}
