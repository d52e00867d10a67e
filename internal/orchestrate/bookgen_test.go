package orchestrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

type genProvider struct {
	name string
	tier model.Tier
	fn   func(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error)
}

func (p *genProvider) Name() string                    { return p.name }
func (p *genProvider) Tier() model.Tier                 { return p.tier }
func (p *genProvider) Capabilities() []model.Capability { return []model.Capability{model.CapBookGeneration} }
func (p *genProvider) IsAvailable(context.Context) (bool, error) { return true, nil }
func (p *genProvider) GenerateBooks(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
	return p.fn(ctx, prompt, count)
}

// Scenario 5 (spec.md §8): book generation dedup.
func TestBookGenerationDedupScenario(t *testing.T) {
	gemini := &genProvider{name: "gemini", tier: model.TierAI, fn: func(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
		return []model.GeneratedBook{{Title: "The Midnight Library", Author: "Matt Haig", Source: "gemini"}}, nil
	}}
	xai := &genProvider{name: "xai", tier: model.TierAI, fn: func(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
		return []model.GeneratedBook{{Title: "The Midnight Library", Author: "Matt Haig", Source: "xai"}}, nil
	}}

	reg := registry.New()
	reg.RegisterAll(gemini, xai)

	o := NewBookGenOrchestrator(reg, DefaultBookGenConfig(), nil)
	result := o.GenerateBooks(context.Background(), "a novel about second chances", 1, true)

	require.Len(t, result.Books, 1)
	assert.Equal(t, 1, result.DuplicatesRemoved)
	assert.ElementsMatch(t, []string{"gemini", "xai"}, result.ProvidersAttempted)
}

func TestBookGenerationDistinctTitlesBothKept(t *testing.T) {
	gemini := &genProvider{name: "gemini", fn: func(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
		return []model.GeneratedBook{{Title: "The Midnight Library", Source: "gemini"}}, nil
	}}
	xai := &genProvider{name: "xai", fn: func(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
		return []model.GeneratedBook{{Title: "Project Hail Mary", Source: "xai"}}, nil
	}}

	reg := registry.New()
	reg.RegisterAll(gemini, xai)

	o := NewBookGenOrchestrator(reg, DefaultBookGenConfig(), nil)
	result := o.GenerateBooks(context.Background(), "prompt", 1, true)

	assert.Len(t, result.Books, 2)
	assert.Equal(t, 0, result.DuplicatesRemoved)
}
