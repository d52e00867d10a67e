// Package quota implements the shared daily counter that bounds paid-provider
// usage across all concurrent consumers (spec.md §4.A).
//
// The counter is persisted in Postgres and read/written with a single
// UPDATE ... WHERE ... RETURNING statement so that concurrent reservers race
// at the database rather than in process memory, grounded on
// other_examples' ineyio-inferrouter quota-postgres Store.Reserve, which
// uses the same "lazy reset inside the reserving transaction, then atomic
// conditional UPDATE" shape. Our variant has no idempotency keys and no
// per-account tables, since the spec.md counter is a single
// (provider_id, utc_date) key.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jukasdrj/alexandria/internal/cachekv"
	"github.com/jukasdrj/alexandria/internal/logging"
)

// Policy bounds documented in spec.md §4.A.
const (
	HardLimit   = 15000
	Buffer      = 2000
	SafetyLimit = HardLimit - Buffer // 13000
)

// Operation names with specialized admission rules.
const (
	OpCron        = "cron"
	OpBulkAuthor   = "bulk_author"
	OpBatchDirect  = "batch_direct"
	OpNewReleases  = "new_releases"
)

// Status is a point-in-time snapshot of the counter.
type Status struct {
	Used            int       `json:"used"`
	Remaining       int       `json:"remaining"`        // HardLimit - Used
	SafetyRemaining int       `json:"safety_remaining"` // SafetyLimit - Used
	CanCall         bool      `json:"can_call"`
	ResetAt         time.Time `json:"reset_at"`
}

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// store abstracts the persisted counter so tests can swap in a fake without
// a real Postgres connection.
type store interface {
	// reserveOrCheck performs the lazy day-rollover reset and, if reserve is
	// true, atomically increments used by n provided the post-increment
	// value does not exceed safetyLimit. It always returns the post-operation
	// used, even when the reservation is denied; resetAt is set only when
	// reserve is false and is the zero time on the reserve path.
	reserveOrCheck(ctx context.Context, n int, reserve bool, safetyLimit int) (used int, resetAt time.Time, allowed bool, err error)
	// record performs an unconditional best-effort increment.
	record(ctx context.Context, n int) error
	// snapshot reads the counter without mutating it (beyond the day-rollover reset).
	snapshot(ctx context.Context) (used int, resetAt time.Time, err error)
}

// Coordinator is the process-wide quota manager. Construct exactly one per
// process (see spec.md §9 "Singleton quota manager") and share it; tests
// build isolated instances with a fake store.
type Coordinator struct {
	providerID string
	store      store
	snapCache  cachekv.KV
}

// New builds a Coordinator backed by Postgres. providerID scopes the counter
// to one paid upstream, since multiple paid providers could in principle
// share a Coordinator implementation with different keys.
func New(pool *pgxpool.Pool, providerID string, snapCache cachekv.KV) (*Coordinator, error) {
	if pool == nil {
		return nil, errors.New("quota: nil pool")
	}
	return &Coordinator{
		providerID: providerID,
		store:      &pgStore{pool: pool, providerID: providerID},
		snapCache:  snapCache,
	}, nil
}

// NewWithStore builds a Coordinator against an arbitrary store, used by
// tests to exercise the atomicity/fail-closed properties without a database.
func NewWithStore(providerID string, s store, snapCache cachekv.KV) *Coordinator {
	return &Coordinator{providerID: providerID, store: s, snapCache: snapCache}
}

// Status returns a snapshot. On any store I/O failure it falls back to a
// conservative zero-usage snapshot (display only — never used to gate a
// call), per spec.md §4.A failure semantics.
func (c *Coordinator) Status(ctx context.Context) Status {
	used, resetAt, err := c.store.snapshot(ctx)
	if err != nil {
		logging.Log(ctx).Warn("quota: status fallback to zero usage", "err", err)
		return Status{Used: 0, Remaining: HardLimit, SafetyRemaining: SafetyLimit, CanCall: true, ResetAt: nextMidnightUTC(time.Now().UTC())}
	}
	s := Status{
		Used:            used,
		Remaining:       HardLimit - used,
		SafetyRemaining: SafetyLimit - used,
		ResetAt:         resetAt,
	}
	s.CanCall = s.SafetyRemaining > 0
	if c.snapCache != nil {
		if b, merr := json.Marshal(s); merr == nil {
			c.snapCache.Set(ctx, "quota:"+c.providerID, b, 10*time.Second)
		}
	}
	return s
}

// Check returns whether n additional units are admissible for the given
// operation. If reserve is true and the call is admissible, the units are
// atomically consumed.
func (c *Coordinator) Check(ctx context.Context, operation string, n int, reserve bool) CheckResult {
	if n == 0 {
		// reserve(0) always succeeds without mutating state (spec.md §8).
		return CheckResult{Allowed: true}
	}

	limit := SafetyLimit
	switch operation {
	case OpBulkAuthor:
		if n > 100 {
			return CheckResult{Allowed: false, Reason: "bulk_author: n exceeds 100"}
		}
	case OpCron:
		// Reserve headroom for user-initiated calls: require double the
		// requested units of safety-remaining.
		used, resetAt, err := c.store.snapshot(ctx)
		if err != nil {
			logging.Log(ctx).Warn("quota: cron check fail-closed", "err", err)
			return CheckResult{Allowed: false, Reason: "store unavailable"}
		}
		_ = resetAt
		if SafetyLimit-used < 2*n {
			return CheckResult{Allowed: false, Reason: "cron: insufficient headroom (need 2x safety-remaining)"}
		}
		if !reserve {
			return CheckResult{Allowed: true}
		}
		// Fall through to the general reservation path so the actual
		// reservation is still subject to the same atomic RMW.
	case OpBatchDirect, OpNewReleases:
		// No extra rules beyond the general bound.
	}

	used, _, allowed, err := c.store.reserveOrCheck(ctx, n, reserve, limit)
	if err != nil {
		// Fail-closed: any I/O failure to the counter store denies the call.
		logging.Log(ctx).Warn("quota: reserve fail-closed", "op", operation, "n", n, "err", err)
		return CheckResult{Allowed: false, Reason: "store unavailable"}
	}
	if !allowed {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("insufficient quota: used=%d safety_limit=%d requested=%d", used, limit, n)}
	}
	return CheckResult{Allowed: true}
}

// Reserve is shorthand for Check(operation, n, reserve=true).Allowed.
func (c *Coordinator) Reserve(ctx context.Context, operation string, n int) bool {
	return c.Check(ctx, operation, n, true).Allowed
}

// Record unconditionally increments usage, for calls that bypassed the
// reservation path (e.g. a batch call whose final size wasn't known until
// after it completed). Best-effort: failures are logged, never returned.
func (c *Coordinator) Record(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	if err := c.store.record(ctx, n); err != nil {
		logging.Log(ctx).Warn("quota: record failed", "n", n, "err", err)
	}
}

func nextMidnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// pgStore is the Postgres-backed store implementation.
type pgStore struct {
	pool       *pgxpool.Pool
	providerID string
}

const quotaTable = "quota_counters"

// EnsureSchema creates the quota table if absent. Exposed so cmd/alexandriad
// can call it once at startup; the core never runs migrations beyond this
// one table it fully owns (spec.md §3 ownership: "the quota KV exclusively
// owns the counter").
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+quotaTable+` (
			provider_id TEXT PRIMARY KEY,
			used_today  BIGINT NOT NULL DEFAULT 0,
			last_reset  DATE NOT NULL DEFAULT CURRENT_DATE
		)
	`)
	return err
}

func (s *pgStore) ensureRow(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO `+quotaTable+` (provider_id, used_today, last_reset)
		VALUES ($1, 0, CURRENT_DATE)
		ON CONFLICT (provider_id) DO NOTHING
	`, s.providerID)
	return err
}

func (s *pgStore) resetIfStale(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		UPDATE `+quotaTable+`
		SET used_today = 0, last_reset = CURRENT_DATE
		WHERE provider_id = $1 AND last_reset < CURRENT_DATE
	`, s.providerID)
	return err
}

func (s *pgStore) reserveOrCheck(ctx context.Context, n int, reserve bool, safetyLimit int) (int, time.Time, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ensureRow(ctx, tx); err != nil {
		return 0, time.Time{}, false, err
	}
	if err := s.resetIfStale(ctx, tx); err != nil {
		return 0, time.Time{}, false, err
	}

	if !reserve {
		var used int64
		if err := tx.QueryRow(ctx, `SELECT used_today FROM `+quotaTable+` WHERE provider_id = $1`, s.providerID).Scan(&used); err != nil {
			return 0, time.Time{}, false, err
		}
		allowed := int(used)+n <= safetyLimit
		return int(used), nextMidnightUTC(time.Now().UTC()), allowed, tx.Commit(ctx)
	}

	var newUsed int64
	row := tx.QueryRow(ctx, `
		UPDATE `+quotaTable+`
		SET used_today = used_today + $1
		WHERE provider_id = $2 AND used_today + $1 <= $3
		RETURNING used_today
	`, n, s.providerID, safetyLimit)
	err = row.Scan(&newUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		var used int64
		if qerr := tx.QueryRow(ctx, `SELECT used_today FROM `+quotaTable+` WHERE provider_id = $1`, s.providerID).Scan(&used); qerr != nil {
			return 0, time.Time{}, false, qerr
		}
		return int(used), time.Time{}, false, tx.Commit(ctx)
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, time.Time{}, false, err
	}
	return int(newUsed), time.Time{}, true, nil
}

func (s *pgStore) record(ctx context.Context, n int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+quotaTable+` (provider_id, used_today, last_reset)
		VALUES ($1, $2, CURRENT_DATE)
		ON CONFLICT (provider_id) DO UPDATE SET
			used_today = CASE WHEN `+quotaTable+`.last_reset < CURRENT_DATE THEN $2 ELSE `+quotaTable+`.used_today + $2 END,
			last_reset = CURRENT_DATE
	`, s.providerID, n)
	return err
}

func (s *pgStore) snapshot(ctx context.Context) (int, time.Time, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ensureRow(ctx, tx); err != nil {
		return 0, time.Time{}, err
	}
	if err := s.resetIfStale(ctx, tx); err != nil {
		return 0, time.Time{}, err
	}

	var used int64
	if err := tx.QueryRow(ctx, `SELECT used_today FROM `+quotaTable+` WHERE provider_id = $1`, s.providerID).Scan(&used); err != nil {
		return 0, time.Time{}, err
	}
	return int(used), nextMidnightUTC(time.Now().UTC()), tx.Commit(ctx)
}
