package queue

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/cover"
	"github.com/jukasdrj/alexandria/internal/model"
)

func solidJPEGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// fakeBroker is an in-memory Broker double recording ack/retry calls per
// queue, used by both consumer test files.
type fakeBroker struct {
	mu      sync.Mutex
	queues  map[string][]Message
	nextID  int64
	acked   map[int64]bool
	retried map[int64]int
	enqueued []struct {
		queue string
		job   model.EnrichmentJob
	}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:  make(map[string][]Message),
		acked:   make(map[int64]bool),
		retried: make(map[int64]int),
	}
}

func (b *fakeBroker) seed(queue string, job model.EnrichmentJob) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.queues[queue] = append(b.queues[queue], Message{ID: id, Job: job})
	return id
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

func (b *fakeBroker) Dequeue(_ context.Context, queue string, max int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	b.queues[queue] = nil
	return msgs, nil
}

func (b *fakeBroker) Ack(_ context.Context, _ string, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked[id] = true
	return nil
}

func (b *fakeBroker) Retry(_ context.Context, _ string, id int64, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retried[id]++
	return nil
}

func (b *fakeBroker) isAcked(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[id]
}

func (b *fakeBroker) retryCount(id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retried[id]
}

type fakeBlobExistence struct {
	mu      sync.Mutex
	present map[string]bool
}

func (f *fakeBlobExistence) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[key]
}

type fakePutBlob struct{}

func (fakePutBlob) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	return "https://blobs.example/" + key, nil
}

type fakeCoverFetcher struct {
	url string
	err error
}

func (f *fakeCoverFetcher) FetchCover(_ context.Context, _ string) (string, string, error) {
	return f.url, "", f.err
}

type fakeEditionStore struct {
	mu   sync.Mutex
	seen []model.Edition
}

func (s *fakeEditionStore) EnrichEdition(_ context.Context, e model.Edition, _ model.Tier, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, e)
	return nil
}

type fakeCoverAnalytics struct {
	mu      sync.Mutex
	records []cover.Status
}

func (a *fakeCoverAnalytics) RecordCoverProcessed(_ context.Context, _ string, _ cover.Metrics, status cover.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, status)
}

func solidJPEGServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := solidJPEGBytes(t, 800, 1200)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
}

func authFailureServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestCoverConsumerSkipsAlreadyCachedISBN(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueCover, model.EnrichmentJob{Kind: model.JobEnrichCover, ISBN: "9780306406157", ProviderURL: "https://covers.example/x.jpg"})

	blob := &fakeBlobExistence{present: map[string]bool{
		cover.BlobKey("9780306406157", cover.SizeLarge):  true,
		cover.BlobKey("9780306406157", cover.SizeMedium): true,
		cover.BlobKey("9780306406157", cover.SizeSmall):  true,
	}}
	proc := cover.New(nil, fakePutBlob{})
	consumer := NewCoverConsumer(broker, proc, blob, nil, nil, nil)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
}

func TestCoverConsumerRetriesAuthFailureWithFreshURL(t *testing.T) {
	authSrv := authFailureServer(t, http.StatusForbidden)
	defer authSrv.Close()
	goodSrv := solidJPEGServer(t)
	defer goodSrv.Close()

	broker := newFakeBroker()
	id := broker.seed(QueueCover, model.EnrichmentJob{Kind: model.JobEnrichCover, ISBN: "9780306406157", ProviderURL: authSrv.URL + "?sig=abc"})

	proc := cover.New(nil, fakePutBlob{})
	fetcher := &fakeCoverFetcher{url: goodSrv.URL}
	store := &fakeEditionStore{}
	analytics := &fakeCoverAnalytics{}
	consumer := NewCoverConsumer(broker, proc, nil, fetcher, store, analytics)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
	assert.Len(t, store.seen, 1)
	assert.Contains(t, analytics.records, cover.StatusOK)
}

func TestCoverConsumerAcksDefinitiveErrorWithoutRetry(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueCover, model.EnrichmentJob{Kind: model.JobEnrichCover, ISBN: "9780306406157", ProviderURL: "https://not-on-allowlist.example/x.jpg"})

	proc := cover.New(nil, fakePutBlob{}, cover.WithAllowedHosts("covers.example"))
	consumer := NewCoverConsumer(broker, proc, nil, nil, nil, nil)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
	assert.Equal(t, 0, broker.retryCount(id))
}

func TestCoverConsumerProcessesBatchAllSettledIndependently(t *testing.T) {
	goodSrv := solidJPEGServer(t)
	defer goodSrv.Close()
	badSrv := authFailureServer(t, http.StatusUnauthorized)
	defer badSrv.Close()

	broker := newFakeBroker()
	goodID := broker.seed(QueueCover, model.EnrichmentJob{Kind: model.JobEnrichCover, ISBN: "9780306406157", ProviderURL: goodSrv.URL})
	badID := broker.seed(QueueCover, model.EnrichmentJob{Kind: model.JobEnrichCover, ISBN: "9780316066525", ProviderURL: badSrv.URL + "?x=1"})

	proc := cover.New(nil, fakePutBlob{})
	consumer := NewCoverConsumer(broker, proc, nil, nil, nil, nil)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(goodID))
	assert.Equal(t, 1, broker.retryCount(badID))
	assert.False(t, broker.isAcked(badID))
}
