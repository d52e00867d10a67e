package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/queue"
)

type fakeBroker struct {
	mu       sync.Mutex
	enqueued []struct {
		queue string
		job   model.EnrichmentJob
	}
}

func (b *fakeBroker) Enqueue(_ context.Context, queue string, job model.EnrichmentJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueued = append(b.enqueued, struct {
		queue string
		job   model.EnrichmentJob
	}{queue, job})
	return nil
}

func (b *fakeBroker) Dequeue(context.Context, string, int) ([]queue.Message, error) { return nil, nil }

func (b *fakeBroker) Ack(context.Context, string, int64) error { return nil }

func (b *fakeBroker) Retry(context.Context, string, int64, int) error { return nil }

var _ queue.Broker = (*fakeBroker)(nil)

func (b *fakeBroker) jobs() []model.EnrichmentJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EnrichmentJob, len(b.enqueued))
	for i, e := range b.enqueued {
		out[i] = e.job
	}
	return out
}

type fakeKV struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{items: make(map[string][]byte)} }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	return v, ok
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = value
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

func TestMonthlyIngestionEnqueuesAndAdvancesResumePage(t *testing.T) {
	broker := &fakeBroker{}
	kv := newFakeKV()
	s := New(broker, nil, kv)
	s.RegisterMonthlyIngestion(time.Hour, 6, 3)

	require.Len(t, s.triggers, 1)
	trig := s.triggers[0]

	require.NoError(t, trig.Run(context.Background()))
	require.NoError(t, trig.Run(context.Background()))

	jobs := broker.jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobBackfillMonth, jobs[0].Kind)
	assert.Equal(t, 0, jobs[0].ResumePage)
	assert.Equal(t, 1, jobs[1].ResumePage)
}

func TestMonthlyIngestionRollsOverToPreviousMonthAfterPagesExhausted(t *testing.T) {
	broker := &fakeBroker{}
	kv := newFakeKV()
	s := New(broker, nil, kv)
	s.RegisterMonthlyIngestion(time.Hour, 12, 1) // 1 page per month: every tick rolls over.
	trig := s.triggers[0]

	now := time.Now().UTC()
	require.NoError(t, trig.Run(context.Background()))
	require.NoError(t, trig.Run(context.Background()))

	jobs := broker.jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, int(now.Month()), jobs[0].Month)
	wantYear, wantMonth := prevMonth(now.Year(), int(now.Month()))
	assert.Equal(t, wantYear, jobs[1].Year)
	assert.Equal(t, wantMonth, jobs[1].Month)
}

func TestAuthorBibliographyHarvestPagesThroughAuthorsAndWrapsOnExhaustion(t *testing.T) {
	broker := &fakeBroker{}
	kv := newFakeKV()
	all := []string{"Author A", "Author B", "Author C"}
	source := func(_ context.Context, offset, limit int) ([]string, error) {
		if offset >= len(all) {
			return nil, nil
		}
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		return all[offset:end], nil
	}

	s := New(broker, nil, kv)
	s.RegisterAuthorBibliographyHarvest(time.Hour, source, 2, 5)
	trig := s.triggers[0]

	require.NoError(t, trig.Run(context.Background())) // offset 0..2
	require.NoError(t, trig.Run(context.Background())) // offset 2..3
	require.NoError(t, trig.Run(context.Background())) // exhausted, wraps

	jobs := broker.jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "Author A", jobs[0].AuthorName)
	assert.Equal(t, "Author B", jobs[1].AuthorName)
	assert.Equal(t, "Author C", jobs[2].AuthorName)
	for _, j := range jobs {
		assert.Equal(t, model.JobEnrichBibliography, j.Kind)
		assert.Equal(t, 5, j.MaxPages)
	}
}

func TestWikidataDiversityPassTagsJobsWithSource(t *testing.T) {
	broker := &fakeBroker{}
	kv := newFakeKV()
	source := func(_ context.Context, offset, limit int) ([]string, error) {
		if offset > 0 {
			return nil, nil
		}
		return []string{"Author Without Wikidata ID"}, nil
	}

	s := New(broker, nil, kv)
	s.RegisterWikidataDiversityPass(time.Hour, source, 10)
	trig := s.triggers[0]

	require.NoError(t, trig.Run(context.Background()))
	jobs := broker.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "wikidata_diversity", jobs[0].Source)
}

func TestSchedulerRunStopsOnContextCancel(t *testing.T) {
	broker := &fakeBroker{}
	kv := newFakeKV()
	s := New(broker, nil, kv)

	var ticks int
	var mu sync.Mutex
	s.Register(Trigger{
		Name:     "noop",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			mu.Lock()
			ticks++
			mu.Unlock()
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, ticks, 0)
}
