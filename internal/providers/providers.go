// Package providers collects the capability-typed adapters described in
// spec.md §4.C. Each concrete adapter lives in its own subpackage (paid,
// freecatalog, freegraph, archive, ai) and implements registry.Provider plus
// whichever capability-typed interfaces below it claims in Capabilities().
// Orchestrators type-assert a registry.Provider to the interface they need,
// mirroring the teacher's single `getter` interface generalized across
// capabilities instead of collapsed into one.
package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jukasdrj/alexandria/internal/model"
)

// ISBNResolver implements the isbn_resolution capability.
type ISBNResolver interface {
	ResolveISBN(ctx context.Context, title, author string) (isbn string, confidence int, err error)
}

// CoverFetcher implements the cover_images capability.
type CoverFetcher interface {
	FetchCover(ctx context.Context, isbn13 string) (url string, size string, err error)
}

// MetadataFetcher implements the metadata_enrichment capability.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, isbn13 string) (model.Metadata, error)
}

// BatchMetadataFetcher is an optional extension: providers that can satisfy
// many ISBNs in one upstream call implement this in addition to
// MetadataFetcher, per spec.md §4.G.2 "batch metadata endpoint".
type BatchMetadataFetcher interface {
	FetchMetadataBatch(ctx context.Context, isbn13s []string) (map[string]model.Metadata, error)
}

// SubjectFetcher implements the subject_enrichment capability: providers
// consulted only for subject tags, per spec.md §4.D.3 "subject-only
// providers".
type SubjectFetcher interface {
	FetchSubjects(ctx context.Context, isbn13 string) ([]string, error)
}

// BookGenerator implements the book_generation capability.
type BookGenerator interface {
	GenerateBooks(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error)
}

// EditionVariantFetcher implements the edition_variants capability.
type EditionVariantFetcher interface {
	FetchEditionVariants(ctx context.Context, isbn13 string) ([]model.EditionVariant, error)
}

// ExternalIDFetcher implements the enhanced_external_ids capability.
type ExternalIDFetcher interface {
	FetchExternalIDs(ctx context.Context, isbn13 string) (map[string]string, confidence int, err error)
}

// BatchExternalIDFetcher is the batch-path extension of ExternalIDFetcher,
// per spec.md §4.D.6 "if a provider exposes a batch method, use it".
type BatchExternalIDFetcher interface {
	FetchExternalIDsBatch(ctx context.Context, isbn13s []string) (map[string]map[string]string, error)
}

// RatingFetcher implements the ratings capability.
type RatingFetcher interface {
	FetchRating(ctx context.Context, isbn13 string) (model.Rating, error)
}

// AuthorBibliographyFetcher paginates an author's full bibliography,
// per spec.md §4.C "author bibliography (paginated)".
type AuthorBibliographyFetcher interface {
	FetchAuthorBibliography(ctx context.Context, authorName string, maxPages int) ([]model.Edition, error)
}

// Retryable classifies a provider error per spec.md §4.C: non-retryable 4xx
// responses resolve to an empty/nil result without raising, while retryable
// 5xx/timeout conditions are raised so the orchestrator moves to the next
// provider. Adapters wrap upstream errors in Retryable so orchestrators
// never need to inspect transport-specific status codes.
type Retryable struct {
	Err error
}

func (r *Retryable) Error() string { return r.Err.Error() }
func (r *Retryable) Unwrap() error { return r.Err }

// NewHTTPClient builds a client with the shared timeout and transport chain
// every adapter uses: a contact-identifying User-Agent (spec.md §4.C "free
// tier etiquette") layered under the caller-supplied round tripper, mirroring
// the teacher's composition of throttledTransport/ScopedTransport/
// HeaderTransport in internal/transport.go.
func NewHTTPClient(timeout time.Duration, rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{RoundTripper: rt},
	}
}

const contactUserAgent = "alexandria-enrichment/1.0 (+https://github.com/jukasdrj/alexandria; contact: oncall@alexandria.example)"

// userAgentTransport stamps every outbound request with the system's
// identifying User-Agent, per spec.md §4.C.
type userAgentTransport struct {
	http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	if r2.Header.Get("User-Agent") == "" {
		r2.Header.Set("User-Agent", contactUserAgent)
	}
	return t.RoundTripper.RoundTrip(r2)
}

// ThrottledTransport rate limits requests against a token bucket, ported
// from the teacher's internal/transport.go throttledTransport (which backs
// onto golang.org/x/time/rate rather than a bare ticker) for providers that
// declare their own per-service rate limiter (spec.md §4.C "free metadata
// services ... optional per-service rate limiter").
type ThrottledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t ThrottledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}
