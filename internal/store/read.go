package store

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"github.com/jukasdrj/alexandria/internal/model"
)

// Stats is a point-in-time count of the top-level entity tables, serving
// GET /api/stats.
type Stats struct {
	Works    int64 `json:"works"`
	Editions int64 `json:"editions"`
	Authors  int64 `json:"authors"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM works),
		(SELECT count(*) FROM editions),
		(SELECT count(*) FROM authors)
	`).Scan(&st.Works, &st.Editions, &st.Authors)
	return st, err
}

// GetEditionByISBN reads one edition by its normalized ISBN-13. The bool
// return is false, not an error, when the edition is unknown — mirroring
// EnrichWork/EnrichEdition's "not found" handling of pgx.ErrNoRows.
func (s *Store) GetEditionByISBN(ctx context.Context, isbn13 string) (model.Edition, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM editions WHERE isbn13 = $1`, isbn13).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.Edition{}, false, nil
	}
	if err != nil {
		return model.Edition{}, false, err
	}
	var e model.Edition
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return model.Edition{}, false, err
	}
	return e, true, nil
}

// SearchWorksByTitle is a simple substring search over the denormalized
// title field, ordered most-recently-updated first.
func (s *Store) SearchWorksByTitle(ctx context.Context, query string, limit, offset int) ([]model.Work, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM works
		WHERE data->>'title' ILIKE $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, "%"+query+"%", limit, offset)
	if err != nil {
		return nil, err
	}
	return scanWorks(rows)
}

// SearchWorksByAuthor joins through work_authors to find works credited to
// an author whose name matches the query substring.
func (s *Store) SearchWorksByAuthor(ctx context.Context, query string, limit, offset int) ([]model.Work, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.data FROM works w
		JOIN work_authors wa ON wa.work_key = w.work_key
		JOIN authors a ON a.author_key = wa.author_key
		WHERE a.data->>'name' ILIKE $1
		ORDER BY w.updated_at DESC
		LIMIT $2 OFFSET $3
	`, "%"+query+"%", limit, offset)
	if err != nil {
		return nil, err
	}
	return scanWorks(rows)
}

func scanWorks(rows pgx.Rows) ([]model.Work, error) {
	defer rows.Close()
	var out []model.Work
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var w model.Work
		if err := sonic.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ExternalIDsFor reads the crosswalk rows for one entity, serving
// GET /api/external-ids/:entity_type/:key.
func (s *Store) ExternalIDsFor(ctx context.Context, entityType model.EntityType, entityKey string) ([]model.ExternalIDMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_type, entity_key, provider, external_id, confidence, created_at
		FROM external_ids WHERE entity_type = $1 AND entity_key = $2
	`, string(entityType), entityKey)
	if err != nil {
		return nil, err
	}
	return scanExternalIDs(rows)
}

// ResolveByProvider reads the crosswalk rows keyed by a provider's own ID,
// serving GET /api/resolve/:provider/:id. More than one row can come back
// if the same provider ID happens to be reused across entity types.
func (s *Store) ResolveByProvider(ctx context.Context, provider, externalID string) ([]model.ExternalIDMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_type, entity_key, provider, external_id, confidence, created_at
		FROM external_ids WHERE provider = $1 AND external_id = $2
	`, provider, externalID)
	if err != nil {
		return nil, err
	}
	return scanExternalIDs(rows)
}

// ListAuthorNames pages through every known author, ordered by key, for
// internal/scheduler's bibliography-harvest trigger (spec.md §4.H).
func (s *Store) ListAuthorNames(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data->>'name' FROM authors
		ORDER BY author_key
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanNames(rows)
}

// ListAuthorNamesMissingWikidataID is the narrower author source
// internal/scheduler's Wikidata diversity pass pages through: authors
// enrichment never attached a wikidata_id to.
func (s *Store) ListAuthorNamesMissingWikidataID(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data->>'name' FROM authors
		WHERE coalesce(data->>'wikidata_id', '') = ''
		ORDER BY author_key
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanNames(rows)
}

func scanNames(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func scanExternalIDs(rows pgx.Rows) ([]model.ExternalIDMapping, error) {
	defer rows.Close()
	var out []model.ExternalIDMapping
	for rows.Next() {
		var m model.ExternalIDMapping
		var entityType string
		if err := rows.Scan(&entityType, &m.EntityKey, &m.Provider, &m.ExternalID, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.EntityType = model.EntityType(entityType)
		out = append(out, m)
	}
	return out, rows.Err()
}
