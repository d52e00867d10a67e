package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"
	"golang.org/x/sync/singleflight"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/orchestrate"
	"github.com/jukasdrj/alexandria/internal/quota"
	"github.com/jukasdrj/alexandria/internal/queue"
	"github.com/jukasdrj/alexandria/internal/store"
)

// maxBatchDirectConcurrency bounds fan-out inside the batch-direct
// handler, the same supplemented-feature bound used by
// internal/queue.CoverConsumer (errgroup.Group{SetLimit}).
const maxBatchDirectConcurrency = 15

// maxBatchISBNs is the upper bound on POST /api/enrich/batch-direct's
// isbns array (spec.md §6).
const maxBatchISBNs = 1000

// Store is the narrow persistence surface the handlers need, satisfied by
// *internal/store.Store.
type Store interface {
	Stats(ctx context.Context) (store.Stats, error)
	GetEditionByISBN(ctx context.Context, isbn13 string) (model.Edition, bool, error)
	SearchWorksByTitle(ctx context.Context, query string, limit, offset int) ([]model.Work, error)
	SearchWorksByAuthor(ctx context.Context, query string, limit, offset int) ([]model.Work, error)
	ExternalIDsFor(ctx context.Context, entityType model.EntityType, entityKey string) ([]model.ExternalIDMapping, error)
	ResolveByProvider(ctx context.Context, provider, externalID string) ([]model.ExternalIDMapping, error)
	EnrichWork(ctx context.Context, w model.Work, tier model.Tier, provider string, confidenceOverride bool) error
	EnrichEdition(ctx context.Context, e model.Edition, tier model.Tier, confidenceOverride bool) error
}

// QuotaChecker is the subset of *internal/quota.Coordinator the handlers
// need.
type QuotaChecker interface {
	Check(ctx context.Context, operation string, n int, reserve bool) quota.CheckResult
	Status(ctx context.Context) quota.Status
}

// MetadataFetcher is the subset of *internal/orchestrate.MetadataOrchestrator
// the batch-direct handler needs.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, isbn13 string, quotaOK bool) orchestrate.MetadataResult
}

// Server holds the dependencies every handler needs and owns the
// singleflight groups that coalesce concurrent identical requests
// (spec.md's supplemented "coalesce in-flight identical enrichment
// requests" feature, mirroring the teacher's Controller.group).
type Server struct {
	store    Store
	quota    QuotaChecker
	metadata MetadataFetcher
	broker   queue.Broker

	isbnGroup   singleflight.Group
	authorGroup singleflight.Group
}

func New(st Store, q QuotaChecker, md MetadataFetcher, broker queue.Broker) *Server {
	return &Server{store: st, quota: q, metadata: md, broker: broker}
}

// Routes assembles the chi router and middleware chain, mirroring the
// teacher's main.go Run(): request coalescing, a request-size cap,
// trailing-slash redirects, request IDs, and panic recovery.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(stampede.Handler(1024, 0))
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/search", s.handleSearch)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/quota/status", s.handleQuotaStatus)
	r.Get("/api/external-ids/{entityType}/{key}", s.handleExternalIDs)
	r.Get("/api/resolve/{provider}/{id}", s.handleResolve)
	r.Post("/api/enrich/batch-direct", s.handleBatchDirect)
	r.Post("/api/authors/enrich-bibliography", s.handleEnrichBibliography)

	return r
}

// requestLogger logs each request's method/path/status/latency, following
// the teacher's requestlogger middleware shape.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Log(r.Context()).Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "latency_ms", time.Since(start).Milliseconds())
	})
}
