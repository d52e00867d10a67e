package orchestrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

type idProvider struct {
	name string
	fn   func(ctx context.Context, isbn13 string) (map[string]string, int, error)
}

func (p *idProvider) Name() string                    { return p.name }
func (p *idProvider) Tier() model.Tier                 { return model.TierFree }
func (p *idProvider) Capabilities() []model.Capability { return []model.Capability{model.CapEnhancedExternalIDs} }
func (p *idProvider) IsAvailable(context.Context) (bool, error) { return true, nil }
func (p *idProvider) FetchExternalIDs(ctx context.Context, isbn13 string) (map[string]string, int, error) {
	return p.fn(ctx, isbn13)
}

func TestExternalIDsAgreementRaisesConfidenceAndUnionsSources(t *testing.T) {
	a := &idProvider{name: "a", fn: func(ctx context.Context, isbn13 string) (map[string]string, int, error) {
		return map[string]string{"goodreads_id": "123"}, 80, nil
	}}
	b := &idProvider{name: "b", fn: func(ctx context.Context, isbn13 string) (map[string]string, int, error) {
		return map[string]string{"goodreads_id": "123"}, 60, nil
	}}

	reg := registry.New()
	reg.RegisterAll(a, b)

	o := NewExternalIDOrchestrator(reg, DefaultExternalIDConfig(), nil)
	result := o.FetchExternalIDs(context.Background(), "9780385544153", true)

	require.Contains(t, result, "goodreads_id")
	entry := result["goodreads_id"]
	assert.Equal(t, "123", entry.Value)
	assert.Equal(t, 70, entry.Confidence) // mean of 80 and 60
	assert.ElementsMatch(t, []string{"a", "b"}, entry.Sources)
}

func TestExternalIDsDisagreementPrefersHigherConfidence(t *testing.T) {
	a := &idProvider{name: "a", fn: func(ctx context.Context, isbn13 string) (map[string]string, int, error) {
		return map[string]string{"goodreads_id": "111"}, 90, nil
	}}
	b := &idProvider{name: "b", fn: func(ctx context.Context, isbn13 string) (map[string]string, int, error) {
		return map[string]string{"goodreads_id": "222"}, 50, nil
	}}

	reg := registry.New()
	reg.RegisterAll(a, b)

	o := NewExternalIDOrchestrator(reg, DefaultExternalIDConfig(), nil)
	result := o.FetchExternalIDs(context.Background(), "9780385544153", true)

	entry := result["goodreads_id"]
	assert.Equal(t, "111", entry.Value)
	assert.Equal(t, 90, entry.Confidence)
}
