package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

type fakeBibliographyProvider struct {
	name     string
	editions []model.Edition
	err      error
}

func (p *fakeBibliographyProvider) Name() string                        { return p.name }
func (p *fakeBibliographyProvider) Tier() model.Tier                    { return model.TierPaid }
func (p *fakeBibliographyProvider) Capabilities() []model.Capability {
	return []model.Capability{model.CapAuthorBibliography}
}
func (p *fakeBibliographyProvider) IsAvailable(context.Context) (bool, error) { return true, nil }
func (p *fakeBibliographyProvider) FetchAuthorBibliography(_ context.Context, _ string, _ int) ([]model.Edition, error) {
	return p.editions, p.err
}

type fakeQuarantine struct{ keys map[string]bool }

func (q *fakeQuarantine) Quarantined(key string) bool { return q.keys[key] }

func TestBackfillConsumerSkipsQuarantinedAuthor(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueBackfill, model.EnrichmentJob{Kind: model.JobEnrichBibliography, AuthorName: "Known 404 Author"})

	reg := registry.New()
	reg.Register(&fakeBibliographyProvider{name: "paid", editions: []model.Edition{{ISBN13: "9780000000001", Title: "Should Not Persist"}}})

	store := &fakeEnrichmentStore{}
	q := &fakeQuarantine{keys: map[string]bool{"Known 404 Author": true}}
	consumer := NewBackfillConsumer(broker, reg, q, store)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
	assert.Empty(t, store.eds)
}

func TestBackfillConsumerPersistsBibliographyOnSuccess(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueBackfill, model.EnrichmentJob{Kind: model.JobEnrichBibliography, AuthorName: "Prolific Author", MaxPages: 5})

	reg := registry.New()
	reg.Register(&fakeBibliographyProvider{name: "paid", editions: []model.Edition{
		{ISBN13: "9780000000001", Title: "Book One"},
		{ISBN13: "9780000000002", Title: "Book Two"},
	}})

	store := &fakeEnrichmentStore{}
	consumer := NewBackfillConsumer(broker, reg, nil, store)

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
	assert.Len(t, store.eds, 2)
	assert.Len(t, store.works, 2)
}

func TestBackfillConsumerRetriesWhenNoProviderSucceeds(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueBackfill, model.EnrichmentJob{Kind: model.JobEnrichBibliography, AuthorName: "Obscure Author"})

	reg := registry.New()
	reg.Register(&fakeBibliographyProvider{name: "paid", err: errors.New("upstream down")})

	consumer := NewBackfillConsumer(broker, reg, nil, &fakeEnrichmentStore{})

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.False(t, broker.isAcked(id))
	assert.Equal(t, 1, broker.retryCount(id))
}

func TestBackfillConsumerAcksBackfillMonthAsNoOp(t *testing.T) {
	broker := newFakeBroker()
	id := broker.seed(QueueBackfill, model.EnrichmentJob{Kind: model.JobBackfillMonth, Year: 2026, Month: 7})

	consumer := NewBackfillConsumer(broker, registry.New(), nil, &fakeEnrichmentStore{})

	require.NoError(t, consumer.RunOnce(context.Background()))
	assert.True(t, broker.isAcked(id))
}
