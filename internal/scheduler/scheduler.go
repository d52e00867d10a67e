// Package scheduler implements spec.md §4.H: periodic triggers that enqueue
// backfill work (monthly ingestion, tiered author bibliography harvests,
// Wikidata diversity passes), each consulting the Quota Coordinator before
// enqueuing and persisting a resume cursor so a long backfill can span many
// invocations. Grounded on the teacher's Persister/NewController startup
// goroutine (internal/persist.go, internal/controller.go): same
// "persist progress under a small key, resume from it on the next run"
// shape, generalized from a single in-flight-author-ID list to a
// per-trigger typed cursor.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/jukasdrj/alexandria/internal/cachekv"
	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/quota"
	"github.com/jukasdrj/alexandria/internal/queue"
)

// cursorTTL mirrors the teacher's Persister.Persist TTL (365 days): a
// resume cursor should outlive any plausible gap between scheduler runs.
const cursorTTL = 365 * 24 * time.Hour

// Trigger is one periodic job source.
type Trigger struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of Triggers, each ticking independently.
type Scheduler struct {
	broker  queue.Broker
	quota   *quota.Coordinator
	cursors cachekv.KV

	mu       sync.Mutex
	triggers []Trigger
}

// New builds a Scheduler. broker is where backfill jobs are enqueued, quota
// gates each tick against daily headroom (spec.md §4.A cron rule), and
// cursors persists per-trigger resume state.
func New(broker queue.Broker, q *quota.Coordinator, cursors cachekv.KV) *Scheduler {
	return &Scheduler{broker: broker, quota: q, cursors: cursors}
}

// Register adds a trigger. Call before Run.
func (s *Scheduler) Register(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
}

// Run starts one ticker goroutine per registered trigger and blocks until
// ctx is cancelled, at which point all ticker goroutines stop and Run
// returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	triggers := append([]Trigger(nil), s.triggers...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range triggers {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTicker(ctx, t)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runTicker(ctx context.Context, t Trigger) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil {
				logging.Log(ctx).Warn("scheduler: trigger failed", "trigger", t.Name, "err", err)
			}
		}
	}
}

// checkHeadroom consults the Quota Coordinator without reserving (the
// actual paid call, if any, happens later inside the queue consumer that
// drains the job this trigger enqueues). It returns false and logs the
// reason when the tick should be skipped.
func (s *Scheduler) checkHeadroom(ctx context.Context, trigger string, n int) bool {
	if s.quota == nil {
		return true
	}
	result := s.quota.Check(ctx, quota.OpCron, n, false)
	if !result.Allowed {
		logging.Log(ctx).Info("scheduler: skipping tick, insufficient quota headroom", "trigger", trigger, "reason", result.Reason)
	}
	return result.Allowed
}

func (s *Scheduler) loadCursor(ctx context.Context, key string, dst any) bool {
	if s.cursors == nil {
		return false
	}
	raw, ok := s.cursors.Get(ctx, key)
	if !ok {
		return false
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		logging.Log(ctx).Warn("scheduler: corrupt cursor, restarting from default", "key", key, "err", err)
		return false
	}
	return true
}

func (s *Scheduler) saveCursor(ctx context.Context, key string, v any) {
	if s.cursors == nil {
		return
	}
	raw, err := sonic.Marshal(v)
	if err != nil {
		logging.Log(ctx).Warn("scheduler: cursor marshal failed", "key", key, "err", err)
		return
	}
	s.cursors.Set(ctx, key, raw, cursorTTL)
}

func (s *Scheduler) enqueue(ctx context.Context, job model.EnrichmentJob) error {
	return s.broker.Enqueue(ctx, queue.QueueBackfill, job)
}
