package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/orchestrate"
	"github.com/jukasdrj/alexandria/internal/quota"
	"github.com/jukasdrj/alexandria/internal/queue"
	"github.com/jukasdrj/alexandria/internal/store"
)

const validISBN = "9780306406157"

type fakeStore struct {
	mu        sync.Mutex
	editions  map[string]model.Edition
	byTitle   []model.Work
	byAuthor  []model.Work
	extIDs    map[string][]model.ExternalIDMapping
	resolveBy map[string][]model.ExternalIDMapping
	stats     store.Stats
	statsErr  error
	enriched  []model.Work
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		editions:  make(map[string]model.Edition),
		extIDs:    make(map[string][]model.ExternalIDMapping),
		resolveBy: make(map[string][]model.ExternalIDMapping),
	}
}

func (f *fakeStore) Stats(context.Context) (store.Stats, error) { return f.stats, f.statsErr }

func (f *fakeStore) GetEditionByISBN(_ context.Context, isbn13 string) (model.Edition, bool, error) {
	e, ok := f.editions[isbn13]
	return e, ok, nil
}

func (f *fakeStore) SearchWorksByTitle(context.Context, string, int, int) ([]model.Work, error) {
	return f.byTitle, nil
}

func (f *fakeStore) SearchWorksByAuthor(context.Context, string, int, int) ([]model.Work, error) {
	return f.byAuthor, nil
}

func (f *fakeStore) ExternalIDsFor(_ context.Context, entityType model.EntityType, key string) ([]model.ExternalIDMapping, error) {
	return f.extIDs[string(entityType)+":"+key], nil
}

func (f *fakeStore) ResolveByProvider(_ context.Context, provider, id string) ([]model.ExternalIDMapping, error) {
	return f.resolveBy[provider+":"+id], nil
}

func (f *fakeStore) EnrichWork(_ context.Context, w model.Work, _ model.Tier, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enriched = append(f.enriched, w)
	return nil
}

func (f *fakeStore) EnrichEdition(_ context.Context, e model.Edition, _ model.Tier, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editions[e.ISBN13] = e
	return nil
}

var _ Store = (*fakeStore)(nil)

type fakeQuota struct {
	checkResult quota.CheckResult
	status      quota.Status
	calls       int
}

func (f *fakeQuota) Check(context.Context, string, int, bool) quota.CheckResult {
	f.calls++
	return f.checkResult
}

func (f *fakeQuota) Status(context.Context) quota.Status { return f.status }

var _ QuotaChecker = (*fakeQuota)(nil)

type fakeMetadata struct {
	mu    sync.Mutex
	calls int
	fn    func(isbn13 string) orchestrate.MetadataResult
}

func (f *fakeMetadata) FetchMetadata(_ context.Context, isbn13 string, _ bool) orchestrate.MetadataResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(isbn13)
}

var _ MetadataFetcher = (*fakeMetadata)(nil)

type fakeBroker struct {
	mu       sync.Mutex
	enqueued []model.EnrichmentJob
}

func (b *fakeBroker) Enqueue(_ context.Context, _ string, job model.EnrichmentJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueued = append(b.enqueued, job)
	return nil
}

func (b *fakeBroker) Dequeue(context.Context, string, int) ([]queue.Message, error) { return nil, nil }
func (b *fakeBroker) Ack(context.Context, string, int64) error                       { return nil }
func (b *fakeBroker) Retry(context.Context, string, int64, int) error                { return nil }

var _ queue.Broker = (*fakeBroker)(nil)

func newTestServer() (*Server, *fakeStore, *fakeQuota, *fakeMetadata, *fakeBroker) {
	st := newFakeStore()
	q := &fakeQuota{checkResult: quota.CheckResult{Allowed: true}}
	md := &fakeMetadata{fn: func(string) orchestrate.MetadataResult { return orchestrate.MetadataResult{} }}
	br := &fakeBroker{}
	return New(st, q, md, br), st, q, md, br
}

func TestHandleSearchByISBNReturnsEdition(t *testing.T) {
	s, st, _, _, _ := newTestServer()
	st.editions[validISBN] = model.Edition{ISBN13: validISBN, Title: "A Book"}

	req := httptest.NewRequest(http.MethodGet, "/api/search?isbn="+validISBN, nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env successEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestHandleSearchWithoutAnyParamReturnsMissingParameter(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "MISSING_PARAMETER", env.Error.Code)
}

func TestHandleStatsReturnsStoreCounts(t *testing.T) {
	s, st, _, _, _ := newTestServer()
	st.stats = store.Stats{Works: 3, Editions: 5, Authors: 2}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"works":3`)
}

func TestHandleQuotaStatusSetsShortClientCache(t *testing.T) {
	s, _, q, _, _ := newTestServer()
	q.status = quota.Status{Used: 100, Remaining: 14900, CanCall: true}

	req := httptest.NewRequest(http.MethodGet, "/api/quota/status", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
}

func TestHandleExternalIDsReturnsNotFoundWhenEmpty(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/external-ids/work/w:1", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExternalIDsRejectsUnknownEntityType(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/external-ids/bogus/w:1", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleResolveReturnsMappings(t *testing.T) {
	s, st, _, _, _ := newTestServer()
	st.resolveBy["hardcover:42"] = []model.ExternalIDMapping{{EntityType: model.EntityWork, EntityKey: "w:1", Provider: "hardcover", ExternalID: "42"}}

	req := httptest.NewRequest(http.MethodGet, "/api/resolve/hardcover/42", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"w:1"`)
}

func TestHandleBatchDirectRejectsOversizedBatch(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	isbns := make([]string, 1001)
	for i := range isbns {
		isbns[i] = validISBN
	}
	body, _ := json.Marshal(batchDirectRequest{ISBNs: isbns})

	req := httptest.NewRequest(http.MethodPost, "/api/enrich/batch-direct", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleBatchDirectReturnsRateLimitedWhenQuotaDenies(t *testing.T) {
	s, _, q, _, _ := newTestServer()
	q.checkResult = quota.CheckResult{Allowed: false, Reason: "insufficient quota"}
	body, _ := json.Marshal(batchDirectRequest{ISBNs: []string{validISBN}})

	req := httptest.NewRequest(http.MethodPost, "/api/enrich/batch-direct", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.Equal(t, 1, q.calls)
}

func TestHandleBatchDirectPersistsEachValidISBNAndMarksInvalidOnes(t *testing.T) {
	s, st, _, md, _ := newTestServer()
	md.fn = func(isbn13 string) orchestrate.MetadataResult {
		title := "Title for " + isbn13
		return orchestrate.MetadataResult{
			Metadata:        &model.Metadata{ISBN13: isbn13, Title: title},
			ProviderResults: []model.Metadata{{ISBN13: isbn13, Title: title}},
		}
	}
	body, _ := json.Marshal(batchDirectRequest{ISBNs: []string{validISBN, "not-an-isbn"}})

	req := httptest.NewRequest(http.MethodPost, "/api/enrich/batch-direct", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env successEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, st.editions, 1)
	_, ok := st.editions[validISBN]
	assert.True(t, ok)
}

func TestHandleBatchDirectCoalescesDuplicateISBNsOntoOneFetch(t *testing.T) {
	s, _, _, md, _ := newTestServer()
	md.fn = func(isbn13 string) orchestrate.MetadataResult {
		return orchestrate.MetadataResult{Metadata: &model.Metadata{ISBN13: isbn13, Title: "X"}}
	}
	body, _ := json.Marshal(batchDirectRequest{ISBNs: []string{validISBN, validISBN, validISBN}})

	req := httptest.NewRequest(http.MethodPost, "/api/enrich/batch-direct", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, md.calls)
}

func TestHandleEnrichBibliographyRequiresAuthorName(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	body, _ := json.Marshal(enrichBibliographyRequest{})

	req := httptest.NewRequest(http.MethodPost, "/api/authors/enrich-bibliography", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEnrichBibliographyEnqueuesBackfillJob(t *testing.T) {
	s, _, _, _, br := newTestServer()
	body, _ := json.Marshal(enrichBibliographyRequest{AuthorName: "Ursula K. Le Guin"})

	req := httptest.NewRequest(http.MethodPost, "/api/authors/enrich-bibliography", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, br.enqueued, 1)
	assert.Equal(t, model.JobEnrichBibliography, br.enqueued[0].Kind)
	assert.Equal(t, "Ursula K. Le Guin", br.enqueued[0].AuthorName)
}
