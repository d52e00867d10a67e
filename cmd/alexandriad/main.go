package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jukasdrj/alexandria/internal/analytics"
	"github.com/jukasdrj/alexandria/internal/blobstore"
	"github.com/jukasdrj/alexandria/internal/cachekv"
	"github.com/jukasdrj/alexandria/internal/cover"
	"github.com/jukasdrj/alexandria/internal/httpapi"
	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/orchestrate"
	"github.com/jukasdrj/alexandria/internal/providers"
	"github.com/jukasdrj/alexandria/internal/providers/ai"
	"github.com/jukasdrj/alexandria/internal/providers/archive"
	"github.com/jukasdrj/alexandria/internal/providers/freecatalog"
	"github.com/jukasdrj/alexandria/internal/providers/freegraph"
	"github.com/jukasdrj/alexandria/internal/providers/paid"
	"github.com/jukasdrj/alexandria/internal/queue"
	"github.com/jukasdrj/alexandria/internal/queue/sqlitequeue"
	"github.com/jukasdrj/alexandria/internal/quota"
	"github.com/jukasdrj/alexandria/internal/registry"
	"github.com/jukasdrj/alexandria/internal/scheduler"
	"github.com/jukasdrj/alexandria/internal/store"
)

// cli contains our command-line flags, following the teacher's
// kong-driven cli{Serve; Bust} shape, extended with worker and scheduler
// subcommands for the two background processes this system needs beyond
// the single long-lived HTTP proxy the teacher ran.
type cli struct {
	Serve     serveCmd     `cmd:"" help:"Run the HTTP API server."`
	Worker    workerCmd    `cmd:"" help:"Drain the cover, enrichment, and backfill queues once per tick."`
	Scheduler schedulerCmd `cmd:"" help:"Run the tiered backfill/harvest triggers."`
	Bust      bustCmd      `cmd:"" help:"Evict a cached not-found marker for an ISBN."`
}

type pgConfig struct {
	PostgresHost     string `default:"localhost" help:"Postgres host."`
	PostgresUser     string `default:"postgres" help:"Postgres user."`
	PostgresPassword string `default:"" help:"Postgres password."`
	PostgresPort     int    `default:"5432" help:"Postgres port."`
	PostgresDatabase string `default:"alexandria" help:"Postgres database to use."`
}

// dsn returns the database's DSN based on the provided flags.
func (c *pgConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDatabase)
}

type logConfig struct {
	Verbose bool `help:"Increase log verbosity."`
}

func (c *logConfig) apply() {
	if c.Verbose {
		logging.Handler.SetLevel(charm.DebugLevel)
	}
}

// providerConfig gathers the base URLs/credentials for every registry
// adapter. The paid and AI adapters are registered only when their
// credentials are present, so a bare-bones deployment can run on the free
// providers alone.
type providerConfig struct {
	PaidAPIKey      string `env:"ALEXANDRIA_PAID_API_KEY" help:"API key for the paid metadata/cover/ISBN provider. Disabled if empty."`
	PaidBaseURL     string `env:"ALEXANDRIA_PAID_BASE_URL" default:"https://api.isbndb.com" help:"Base URL of the paid provider."`
	FreeGraphURL    string `env:"ALEXANDRIA_FREEGRAPH_URL" default:"https://openlibrary.org/graphql" help:"GraphQL endpoint of the free catalog graph provider."`
	FreeCatalogURL  string `env:"ALEXANDRIA_FREECATALOG_URL" default:"https://openlibrary.org" help:"Base URL of the free REST catalog provider."`
	ArchiveURL      string `env:"ALEXANDRIA_ARCHIVE_URL" default:"https://archive.org" help:"Base URL of the Internet Archive provider."`
	AIAPIKey        string `env:"ALEXANDRIA_AI_API_KEY" help:"API key for the AI book-generation provider. Disabled if empty."`
	AIBaseURL       string `env:"ALEXANDRIA_AI_BASE_URL" help:"Base URL of the AI provider's chat-completions API."`
	AIModel         string `env:"ALEXANDRIA_AI_MODEL" default:"gpt-4o-mini" help:"Model name to request from the AI provider."`
	AIBooksJSONPath string `env:"ALEXANDRIA_AI_BOOKS_PATH" default:"$.books" help:"JSONPath into the AI response locating the books array."`

	CacheMaxCostBytes int64  `default:"67108864" help:"Max approximate byte cost of the in-process ristretto cache."`
	CoverBlobDir      string `default:"./data/covers" help:"Filesystem root cover images are written under."`
	CoverPublicPrefix string `default:"/covers" help:"URL prefix covers are served back under."`
	QueuePath         string `default:"./data/queue.db" help:"Path to the local SQLite-backed job queue."`
}

// core is the set of dependencies every subcommand needs, built once from
// pgConfig/providerConfig and shared across serve/worker/scheduler.
type core struct {
	pool     *pgxpool.Pool
	store    *store.Store
	quota    *quota.Coordinator
	cache    *cachekv.Local
	broker   *sqlitequeue.Broker
	registry *registry.Registry
	metrics  *analytics.Emitter
	paid     *paid.Adapter
	metadata *orchestrate.MetadataOrchestrator
}

func buildCore(ctx context.Context, pg pgConfig, pc providerConfig) (*core, error) {
	pool, err := pgxpool.New(ctx, pg.dsn())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensuring store schema: %w", err)
	}
	if err := quota.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensuring quota schema: %w", err)
	}

	cache, err := cachekv.New(pc.CacheMaxCostBytes)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}
	q, err := quota.New(pool, "isbndb", cache)
	if err != nil {
		return nil, fmt.Errorf("building quota coordinator: %w", err)
	}
	broker, err := sqlitequeue.Open(pc.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}

	reg := registry.New()
	var paidAdapter *paid.Adapter
	if pc.PaidAPIKey != "" {
		paidAdapter = paid.New("isbndb", pc.PaidAPIKey, pc.PaidBaseURL, q)
		reg.Register(paidAdapter)
	}
	reg.Register(freecatalog.New("openlibrary", pc.FreeCatalogURL))
	reg.Register(freegraph.New("openlibrary-graph", pc.FreeGraphURL))
	reg.Register(archive.New("archive", pc.ArchiveURL))
	if pc.AIAPIKey != "" && pc.AIBaseURL != "" {
		aiAdapter, err := ai.New("ai-generator", pc.AIAPIKey, pc.AIBaseURL, pc.AIModel, pc.AIBooksJSONPath, q)
		if err != nil {
			return nil, fmt.Errorf("building AI provider: %w", err)
		}
		reg.Register(aiAdapter)
	}

	metricsReg := prometheus.NewRegistry()
	emitter := analytics.New(metricsReg)

	st := store.New(pool)

	return &core{
		pool:     pool,
		store:    st,
		quota:    q,
		cache:    cache,
		broker:   broker,
		registry: reg,
		metrics:  emitter,
		paid:     paidAdapter,
		metadata: orchestrate.NewMetadataOrchestrator(reg, orchestrate.DefaultMetadataConfig(), emitter),
	}, nil
}

type serveCmd struct {
	pgConfig
	logConfig
	providerConfig

	Port int `default:"8788" help:"Port to serve traffic on."`
}

func (s *serveCmd) Run() error {
	s.logConfig.apply()
	ctx := context.Background()

	c, err := buildCore(ctx, s.pgConfig, s.providerConfig)
	if err != nil {
		return err
	}

	srv := httpapi.New(c.store, c.quota, c.metadata, c.broker)

	r := chi.NewRouter()
	r.Mount("/", srv.Routes())
	r.Handle("/covers/*", http.StripPrefix("/covers/", http.FileServer(http.Dir(s.providerConfig.CoverBlobDir))))

	addr := fmt.Sprintf(":%d", s.Port)
	httpServer := &http.Server{
		Handler:  r,
		Addr:     addr,
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	logging.Log(ctx).Info("listening", "addr", addr)
	return httpServer.ListenAndServe()
}

type workerCmd struct {
	pgConfig
	logConfig
	providerConfig

	PollInterval time.Duration `default:"5s" help:"How often to poll the queues when idle."`
}

// Run drains the cover, enrichment, and backfill queues on a tick,
// mirroring the batch-consumer shape of internal/queue's RunOnce methods —
// each round claims and processes one batch per queue, then waits for the
// next tick whether or not anything was ready.
func (w *workerCmd) Run() error {
	w.logConfig.apply()
	ctx := context.Background()

	c, err := buildCore(ctx, w.pgConfig, w.providerConfig)
	if err != nil {
		return err
	}

	blob := blobstore.New(w.providerConfig.CoverBlobDir, w.providerConfig.CoverPublicPrefix)
	processor := cover.New(http.DefaultClient, blob)

	var coverFetcher providers.CoverFetcher
	var batchFetcher providers.BatchMetadataFetcher
	if c.paid != nil {
		coverFetcher = c.paid
		batchFetcher = c.paid
	}

	coverConsumer := queue.NewCoverConsumer(c.broker, processor, nil, coverFetcher, c.store, c.metrics)
	enrichmentConsumer := queue.NewEnrichmentConsumer(c.broker, batchFetcher, c.cache, c.store, c.metrics)
	backfillConsumer := queue.NewBackfillConsumer(c.broker, c.registry, c.registry, c.store)

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()
	for {
		if err := coverConsumer.RunOnce(ctx); err != nil {
			logging.Log(ctx).Error("cover consumer tick failed", "err", err)
		}
		if err := enrichmentConsumer.RunOnce(ctx); err != nil {
			logging.Log(ctx).Error("enrichment consumer tick failed", "err", err)
		}
		if err := backfillConsumer.RunOnce(ctx); err != nil {
			logging.Log(ctx).Error("backfill consumer tick failed", "err", err)
		}
		<-ticker.C
	}
}

type schedulerCmd struct {
	pgConfig
	logConfig
	providerConfig

	MonthlyIngestionInterval time.Duration `default:"1h" help:"How often the per-month ingestion trigger fires."`
	LookbackMonths           int           `default:"12" help:"How many months back the ingestion trigger walks."`
	PagesPerMonthTick        int           `default:"1" help:"Catalog pages enqueued per ingestion tick."`

	BibliographyHarvestInterval time.Duration `default:"1h" help:"How often the author-bibliography harvest trigger fires."`
	HarvestPageSize              int          `default:"50" help:"Authors paged per harvest tick."`
	HarvestMaxPagesPerAuthor      int          `default:"10" help:"Bibliography pages fetched per author per harvest."`

	WikidataPassInterval time.Duration `default:"6h" help:"How often the Wikidata diversity pass fires."`
	WikidataPageSize     int           `default:"50" help:"Authors paged per Wikidata pass tick."`
}

func (s *schedulerCmd) Run() error {
	s.logConfig.apply()
	ctx := context.Background()

	c, err := buildCore(ctx, s.pgConfig, s.providerConfig)
	if err != nil {
		return err
	}

	sched := scheduler.New(c.broker, c.quota, c.cache)
	sched.RegisterMonthlyIngestion(s.MonthlyIngestionInterval, s.LookbackMonths, s.PagesPerMonthTick)
	sched.RegisterAuthorBibliographyHarvest(s.BibliographyHarvestInterval, c.store.ListAuthorNames, s.HarvestPageSize, s.HarvestMaxPagesPerAuthor)
	sched.RegisterWikidataDiversityPass(s.WikidataPassInterval, c.store.ListAuthorNamesMissingWikidataID, s.WikidataPageSize)

	logging.Log(ctx).Info("scheduler started")
	sched.Run(ctx)
	return nil
}

type bustCmd struct {
	logConfig

	CacheMaxCostBytes int64  `default:"67108864" help:"Max approximate byte cost of the in-process ristretto cache."`
	ISBN              string `arg:"" help:"ISBN-13 whose not-found marker should be evicted."`
}

// Run clears a negative-result cache entry so the next enrichment attempt
// for this ISBN isn't short-circuited by internal/queue's isKnownNotFound
// check (spec.md §4.G.2 step 2).
//
// TODO: the not-found marker lives in each worker's own process-local
// ristretto cache (internal/cachekv), not in Postgres, so a separate CLI
// invocation has no way to reach an already-running worker's copy of it —
// this only has an effect run against a cache that is itself about to be
// reused by the calling process. Busting a live deployment needs either a
// shared backing store for this cache (like quota's Postgres-backed
// counter) or a signal sent to each worker replica directly.
func (b *bustCmd) Run() error {
	b.logConfig.apply()
	ctx := context.Background()

	cache, err := cachekv.New(b.CacheMaxCostBytes)
	if err != nil {
		return err
	}
	return cache.Delete(ctx, "nf:"+b.ISBN) // internal/queue's notFoundKey convention
}

func main() {
	kctx := kong.Parse(&cli{})
	err := kctx.Run()
	if err != nil {
		logging.Log(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
