package store

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
)

// Store implements spec.md §4.F against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables this package owns. Exposed for
// cmd/alexandriad to call once at startup, mirroring internal/quota's
// EnsureSchema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS works (
			work_key         TEXT PRIMARY KEY,
			data             JSONB NOT NULL,
			source_tier      TEXT NOT NULL,
			row_hash         BIGINT NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS editions (
			isbn13           TEXT PRIMARY KEY,
			work_key         TEXT NOT NULL REFERENCES works(work_key),
			data             JSONB NOT NULL,
			source_tier      TEXT NOT NULL,
			row_hash         BIGINT NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS authors (
			author_key       TEXT PRIMARY KEY,
			data             JSONB NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS work_authors (
			work_key         TEXT NOT NULL REFERENCES works(work_key),
			author_key       TEXT NOT NULL REFERENCES authors(author_key),
			author_order     INT NOT NULL,
			PRIMARY KEY (work_key, author_key)
		);
		CREATE TABLE IF NOT EXISTS external_ids (
			entity_type      TEXT NOT NULL,
			entity_key       TEXT NOT NULL,
			provider         TEXT NOT NULL,
			external_id      TEXT NOT NULL,
			confidence       INT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_type, entity_key, provider)
		);
	`)
	return err
}

func rowHash(v any) int64 {
	b, err := sonic.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(xxhash.Sum64(b))
}

// EnrichWork implements enrich_work: upsert by work_key, merging arrays and
// applying the monotonic-completeness rule to scalar fields (spec.md §3,
// §4.F). provider/tier identify the contributor driving this write.
func (s *Store) EnrichWork(ctx context.Context, w model.Work, tier model.Tier, provider string, confidenceOverride bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	var existingTier string
	found := true
	err = tx.QueryRow(ctx, `SELECT data, source_tier FROM works WHERE work_key = $1 FOR UPDATE`, w.WorkKey).Scan(&raw, &existingTier)
	if err == pgx.ErrNoRows {
		found = false
	} else if err != nil {
		return err
	}

	existing := existingWork{found: found, sourceTier: model.Tier(existingTier)}
	if found {
		if err := sonic.Unmarshal(raw, &existing.row); err != nil {
			return fmt.Errorf("store: decode existing work %s: %w", w.WorkKey, err)
		}
	}

	merged := mergeWork(existing, w, tier, provider, confidenceOverride)
	newHash := rowHash(merged)
	if found {
		var oldHash int64
		_ = tx.QueryRow(ctx, `SELECT row_hash FROM works WHERE work_key = $1`, w.WorkKey).Scan(&oldHash)
		if oldHash == newHash {
			logging.Log(ctx).Debug("store: enrich_work no-op", "work_key", w.WorkKey)
			return tx.Commit(ctx) // nothing changed; still commit to release the row lock.
		}
	}

	resultTier := tier
	if found && rank(existing.sourceTier) > rank(tier) && !confidenceOverride {
		resultTier = existing.sourceTier
	}

	data, err := sonic.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO works (work_key, data, source_tier, row_hash, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (work_key) DO UPDATE SET
			data = $2, source_tier = $3, row_hash = $4, updated_at = now()
	`, w.WorkKey, data, string(resultTier), newHash)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnrichEdition implements enrich_edition: the referenced Work must already
// exist, checked in the same transaction before the edition upsert
// (spec.md §4.F FK discipline).
func (s *Store) EnrichEdition(ctx context.Context, e model.Edition, tier model.Tier, confidenceOverride bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM works WHERE work_key = $1)`, e.WorkKey).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("store: enrich_edition %s: work %s does not exist", e.ISBN13, e.WorkKey)
	}

	var raw []byte
	var existingTier string
	found := true
	err = tx.QueryRow(ctx, `SELECT data, source_tier FROM editions WHERE isbn13 = $1 FOR UPDATE`, e.ISBN13).Scan(&raw, &existingTier)
	if err == pgx.ErrNoRows {
		found = false
	} else if err != nil {
		return err
	}

	existing := existingEdition{found: found, sourceTier: model.Tier(existingTier)}
	if found {
		if err := sonic.Unmarshal(raw, &existing.row); err != nil {
			return fmt.Errorf("store: decode existing edition %s: %w", e.ISBN13, err)
		}
	}

	merged := mergeEdition(existing, e, tier, confidenceOverride)
	newHash := rowHash(merged)
	if found {
		var oldHash int64
		_ = tx.QueryRow(ctx, `SELECT row_hash FROM editions WHERE isbn13 = $1`, e.ISBN13).Scan(&oldHash)
		if oldHash == newHash {
			return tx.Commit(ctx)
		}
	}

	resultTier := tier
	if found && rank(existing.sourceTier) > rank(tier) && !confidenceOverride {
		resultTier = existing.sourceTier
	}

	data, err := sonic.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO editions (isbn13, work_key, data, source_tier, row_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (isbn13) DO UPDATE SET
			data = $3, source_tier = $4, row_hash = $5, updated_at = now()
	`, e.ISBN13, e.WorkKey, data, string(resultTier), newHash)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnrichAuthor implements enrich_author: upsert by author_key. Authors
// don't carry a tier-ranked scalar set in the spec; a later non-empty value
// replaces the stored one, and an empty value never clears a populated
// field (unlike mergeCoverURLs, which only fills gaps).
func (s *Store) EnrichAuthor(ctx context.Context, a model.Author) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	found := true
	err = tx.QueryRow(ctx, `SELECT data FROM authors WHERE author_key = $1 FOR UPDATE`, a.AuthorKey).Scan(&raw)
	if err == pgx.ErrNoRows {
		found = false
	} else if err != nil {
		return err
	}

	merged := a
	if found {
		var existing model.Author
		if err := sonic.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("store: decode existing author %s: %w", a.AuthorKey, err)
		}
		merged = mergeAuthor(existing, a)
	}

	data, err := sonic.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO authors (author_key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (author_key) DO UPDATE SET data = $2, updated_at = now()
	`, a.AuthorKey, data)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LinkWorkAuthors implements link_work_authors: resolve-or-create each
// author by name, then write the ordered join rows idempotently.
func (s *Store) LinkWorkAuthors(ctx context.Context, workKey string, orderedAuthorNames []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, name := range orderedAuthorNames {
		authorKey := authorKeyFromName(name)
		_, err := tx.Exec(ctx, `
			INSERT INTO authors (author_key, data, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (author_key) DO NOTHING
		`, authorKey, mustMarshal(model.Author{AuthorKey: authorKey, Name: name}))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO work_authors (work_key, author_key, author_order)
			VALUES ($1, $2, $3)
			ON CONFLICT (work_key, author_key) DO UPDATE SET author_order = $3
		`, workKey, authorKey, i)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpsertExternalIDs implements upsert_external_ids: insert or no-op on
// conflict of (entity_type, entity_key, provider).
func (s *Store) UpsertExternalIDs(ctx context.Context, rows []model.ExternalIDMapping) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO external_ids (entity_type, entity_key, provider, external_id, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (entity_type, entity_key, provider) DO NOTHING
		`, string(r.EntityType), r.EntityKey, r.Provider, r.ExternalID, r.Confidence)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func mergeAuthor(existing, incoming model.Author) model.Author {
	out := existing
	out.Name = firstNonEmpty(incoming.Name, out.Name)
	out.Gender = firstNonEmpty(incoming.Gender, out.Gender)
	out.Nationality = firstNonEmpty(incoming.Nationality, out.Nationality)
	out.BirthPlace = firstNonEmpty(incoming.BirthPlace, out.BirthPlace)
	out.DeathPlace = firstNonEmpty(incoming.DeathPlace, out.DeathPlace)
	out.Biography = firstNonEmpty(incoming.Biography, out.Biography)
	out.PhotoURL = firstNonEmpty(incoming.PhotoURL, out.PhotoURL)
	out.WikidataID = firstNonEmpty(incoming.WikidataID, out.WikidataID)
	if incoming.BirthYear != 0 {
		out.BirthYear = incoming.BirthYear
	}
	if incoming.DeathYear != 0 {
		out.DeathYear = incoming.DeathYear
	}
	out.ExternalIDs = mergeExternalIDMap(out.ExternalIDs, incoming.ExternalIDs)
	return out
}

func mustMarshal(v any) []byte {
	b, _ := sonic.Marshal(v)
	return b
}

// authorKeyFromName derives a stable key from a display name. Production
// callers that already resolved an author_key (e.g. from a provider's
// external ID) should prefer EnrichAuthor directly; LinkWorkAuthors exists
// for the common case of only having ordered names.
func authorKeyFromName(name string) string {
	return fmt.Sprintf("name:%x", xxhash.Sum64String(name))
}
