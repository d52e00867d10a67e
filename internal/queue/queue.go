// Package queue implements spec.md §4.G: batch consumers that drain the
// cover queue, the enrichment queue and the backfill queue, wiring queued
// jobs to the Cover Processor, the paid adapter's batch metadata endpoint,
// the bibliography providers, and persistence.
package queue

import (
	"context"

	"github.com/jukasdrj/alexandria/internal/model"
)

// Message is one dequeued job, carrying the delivery metadata a Broker
// needs to ack/retry it.
type Message struct {
	ID      int64
	Job     model.EnrichmentJob
	Attempt int
}

// Broker is the minimal at-least-once queue contract the consumers need.
// sqlitequeue implements it for local/dev/test; a production deployment
// can back it with any broker that offers batch dequeue + per-message
// ack/retry.
type Broker interface {
	Enqueue(ctx context.Context, queue string, job model.EnrichmentJob) error
	// Dequeue claims up to max ready messages from queue. Claimed messages
	// are invisible to other dequeues until Ack'd, Retry'd, or their
	// visibility timeout expires.
	Dequeue(ctx context.Context, queue string, max int) ([]Message, error)
	Ack(ctx context.Context, queue string, id int64) error
	// Retry returns a message to the queue for another attempt, unless its
	// attempt count has reached maxRetries, in which case it is
	// dead-lettered instead.
	Retry(ctx context.Context, queue string, id int64, maxRetries int) error
}

// Queue names, shared between producers (orchestrators enqueuing cover
// jobs, internal/scheduler enqueuing backfill work) and consumers.
const (
	QueueCover      = "cover"
	QueueEnrichment = "enrichment"
	// QueueBackfill carries BackfillMonth and EnrichAuthorBibliography jobs
	// produced by internal/scheduler (spec.md §4.H). Its wire shape
	// ({year, month, resume_page?} or {author_name, max_pages?}) differs
	// from the per-ISBN enrichment queue's, so it is kept separate rather
	// than overloading QueueEnrichment's consumer, which assumes every
	// message carries a normalizable ISBN.
	QueueBackfill = "backfill"
)

// DefaultMaxRetries is the broker retry budget spec.md §4.G.1 names as an
// example ("e.g., 2").
const DefaultMaxRetries = 2
