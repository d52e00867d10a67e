package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

type metaProvider struct {
	name string
	tier model.Tier
	fn   func(ctx context.Context, isbn13 string) (model.Metadata, error)
}

func (p *metaProvider) Name() string                    { return p.name }
func (p *metaProvider) Tier() model.Tier                 { return p.tier }
func (p *metaProvider) Capabilities() []model.Capability { return []model.Capability{model.CapMetadataEnrichment} }
func (p *metaProvider) IsAvailable(context.Context) (bool, error) { return true, nil }
func (p *metaProvider) FetchMetadata(ctx context.Context, isbn13 string) (model.Metadata, error) {
	return p.fn(ctx, isbn13)
}

type subjectProvider struct {
	name string
	fn   func(ctx context.Context, isbn13 string) ([]string, error)
}

func (p *subjectProvider) Name() string                    { return p.name }
func (p *subjectProvider) Tier() model.Tier                 { return model.TierFree }
func (p *subjectProvider) Capabilities() []model.Capability { return []model.Capability{model.CapSubjectEnrichment} }
func (p *subjectProvider) IsAvailable(context.Context) (bool, error) { return true, nil }
func (p *subjectProvider) FetchSubjects(ctx context.Context, isbn13 string) ([]string, error) {
	return p.fn(ctx, isbn13)
}

// Scenario 3 (spec.md §8): metadata parallel merge.
func TestMetadataParallelMergeScenario(t *testing.T) {
	p1 := &metaProvider{name: "p1", tier: model.TierPaid, fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		return model.Metadata{
			Description: "short description of forty chars here",
			Subjects:    []string{"World War II", "History"},
		}, nil
	}}
	p2 := &metaProvider{name: "p2", tier: model.TierFree, fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		desc := make([]byte, 200)
		for i := range desc {
			desc[i] = 'x'
		}
		return model.Metadata{
			Description: string(desc),
			Subjects:    []string{"Biography", "Churchill"},
		}, nil
	}}
	s1 := &subjectProvider{name: "s1", fn: func(ctx context.Context, isbn13 string) ([]string, error) {
		return []string{"World War II", "London", "Blitz"}, nil
	}}

	reg := registry.New()
	reg.RegisterAll(p1, p2, s1)

	o := NewMetadataOrchestrator(reg, MetadataConfig{ProviderTimeout: time.Second, MaxSubjectOnlyProviders: 3}, nil)
	result := o.FetchMetadata(context.Background(), "9780385544153", true)

	require.NotNil(t, result.Metadata)
	assert.Equal(t, 200, len(result.Metadata.Description))
	assert.Equal(t, []string{"World War II", "History", "Biography", "Churchill", "London", "Blitz"}, result.Metadata.Subjects)
	assert.Len(t, result.ProviderResults, 2)
	assert.Len(t, result.SubjectResults, 1)
}

func TestMetadataEnrichmentRecordsPerProviderErrorsWithoutFailingCall(t *testing.T) {
	ok := &metaProvider{name: "ok", fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		return model.Metadata{Title: "Found"}, nil
	}}
	bad := &metaProvider{name: "bad", fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		return model.Metadata{}, assertError("boom")
	}}

	reg := registry.New()
	reg.RegisterAll(ok, bad)

	o := NewMetadataOrchestrator(reg, DefaultMetadataConfig(), nil)
	result := o.FetchMetadata(context.Background(), "9780385544153", true)

	require.NotNil(t, result.Metadata)
	assert.Equal(t, "Found", result.Metadata.Title)
	assert.NotEmpty(t, result.Errors)
}

// A slower higher-priority (paid) provider must still win a scalar field
// over a faster lower-priority (free) provider: priority order, not
// completion order, decides "first non-empty wins" (spec.md §4.D.3).
func TestMetadataScalarMergeUsesPriorityOrderNotCompletionOrder(t *testing.T) {
	slowPaid := &metaProvider{name: "slow-paid", tier: model.TierPaid, fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		time.Sleep(20 * time.Millisecond)
		return model.Metadata{Publisher: "Priority Publisher"}, nil
	}}
	fastFree := &metaProvider{name: "fast-free", tier: model.TierFree, fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		return model.Metadata{Publisher: "Faster Publisher"}, nil
	}}

	reg := registry.New()
	reg.RegisterAll(slowPaid, fastFree)

	o := NewMetadataOrchestrator(reg, DefaultMetadataConfig(), nil)
	result := o.FetchMetadata(context.Background(), "9780385544153", true)

	require.NotNil(t, result.Metadata)
	assert.Equal(t, "Priority Publisher", result.Metadata.Publisher)
}

func TestMetadataEnrichmentShortCircuitsOnQuarantinedISBN(t *testing.T) {
	called := false
	p1 := &metaProvider{name: "p1", fn: func(ctx context.Context, isbn13 string) (model.Metadata, error) {
		called = true
		return model.Metadata{Title: "Should Not Be Reached"}, nil
	}}

	reg := registry.New()
	reg.RegisterAll(p1)
	reg.Quarantine("9780000000000")

	o := NewMetadataOrchestrator(reg, DefaultMetadataConfig(), nil)
	result := o.FetchMetadata(context.Background(), "9780000000000", true)

	assert.False(t, called)
	assert.Nil(t, result.Metadata)
	assert.NotEmpty(t, result.Errors)
}

type assertError string

func (e assertError) Error() string { return string(e) }
