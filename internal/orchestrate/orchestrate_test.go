package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/registry"
)

// fakeProvider is a minimal registry.Provider plus whichever capability
// methods a test needs; it's built per-test via fields so one type covers
// every orchestrator.
type fakeProvider struct {
	name  string
	tier  model.Tier
	caps  []model.Capability
	avail bool

	resolveISBN func(ctx context.Context, title, author string) (string, int, error)
	fetchCover  func(ctx context.Context) (string, string, error)
}

func (f *fakeProvider) Name() string                    { return f.name }
func (f *fakeProvider) Tier() model.Tier                 { return f.tier }
func (f *fakeProvider) Capabilities() []model.Capability { return f.caps }
func (f *fakeProvider) IsAvailable(context.Context) (bool, error) { return f.avail, nil }

func (f *fakeProvider) ResolveISBN(ctx context.Context, title, author string) (string, int, error) {
	return f.resolveISBN(ctx, title, author)
}

func (f *fakeProvider) FetchCover(ctx context.Context, isbn13 string) (string, string, error) {
	return f.fetchCover(ctx)
}

func TestTryProviderReleasesTimerOnSuccessAndTimeout(t *testing.T) {
	_, attempt := tryProvider(context.Background(), "fast", time.Second, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	assert.True(t, attempt.Success)

	_, attempt = tryProvider(context.Background(), "slow", 10*time.Millisecond, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	assert.False(t, attempt.Success)
	assert.Contains(t, attempt.Error, "timeout")
}

// Scenario 1 (spec.md §8): fallback ISBN resolution picks the first
// provider that returns a non-null ISBN; a failing higher-priority provider
// is recorded as a failed attempt but does not abort the chain.
func TestFallbackISBNResolution(t *testing.T) {
	paid := &fakeProvider{
		name: "paid", tier: model.TierPaid, caps: []model.Capability{model.CapISBNResolution}, avail: true,
		resolveISBN: func(ctx context.Context, title, author string) (string, int, error) {
			return "", 0, errors.New("upstream 500")
		},
	}
	freeA := &fakeProvider{
		name: "free-A", tier: model.TierFree, caps: []model.Capability{model.CapISBNResolution}, avail: true,
		resolveISBN: func(ctx context.Context, title, author string) (string, int, error) {
			return "9780385544153", 85, nil
		},
	}

	reg := registry.New()
	reg.RegisterAll(paid, freeA)

	o := NewISBNOrchestrator(reg, ISBNConfig{Priority: []string{"paid", "free-A"}, ProviderTimeout: time.Second}, nil)
	result := o.ResolveISBN(context.Background(), "The Splendid and the Vile", "Erik Larson", true)

	assert.Equal(t, "9780385544153", result.ISBN)
	assert.Equal(t, "free-A", result.Source)
	assert.Equal(t, 85, result.Confidence)
}

func TestISBNResolutionAllFailedWhenEveryProviderErrors(t *testing.T) {
	paid := &fakeProvider{
		name: "paid", caps: []model.Capability{model.CapISBNResolution}, avail: true,
		resolveISBN: func(ctx context.Context, title, author string) (string, int, error) {
			return "", 0, errors.New("boom")
		},
	}
	reg := registry.New()
	reg.RegisterAll(paid)
	o := NewISBNOrchestrator(reg, DefaultISBNConfig(), nil)
	result := o.ResolveISBN(context.Background(), "t", "a", true)
	assert.Equal(t, "all-failed", result.Source)
}

func TestISBNResolutionNoneWhenNoProvidersAvailable(t *testing.T) {
	reg := registry.New()
	o := NewISBNOrchestrator(reg, DefaultISBNConfig(), nil)
	result := o.ResolveISBN(context.Background(), "t", "a", true)
	assert.Equal(t, "none", result.Source)
}

// Scenario 2 (spec.md §8): cover timeout fallback. A slow provider that
// exceeds providerTimeoutMs is reported as a timeout; the fast free
// provider's URL wins within the overall budget.
func TestCoverTimeoutFallback(t *testing.T) {
	slow := &fakeProvider{
		name: "slow-cover", tier: model.TierFree, caps: []model.Capability{model.CapCoverImages}, avail: true,
		fetchCover: func(ctx context.Context) (string, string, error) {
			select {
			case <-time.After(15 * time.Second):
				return "http://slow/cover.jpg", "large", nil
			case <-ctx.Done():
				return "", "", ctx.Err()
			}
		},
	}
	fast := &fakeProvider{
		name: "free-cover", tier: model.TierFree, caps: []model.Capability{model.CapCoverImages}, avail: true,
		fetchCover: func(ctx context.Context) (string, string, error) {
			return "http://fast/cover.jpg", "large", nil
		},
	}

	reg := registry.New()
	reg.RegisterAll(slow, fast)

	o := NewCoverOrchestrator(reg, CoverConfig{Priority: []string{"slow-cover", "free-cover"}, ProviderTimeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	result := o.FetchCover(context.Background(), "9780385544153")
	elapsed := time.Since(start)

	require.Equal(t, "http://fast/cover.jpg", result.URL)
	assert.Less(t, elapsed, 5*time.Second)
}

// Scenario 4 (spec.md §8): quota denial of cron is a quota.Coordinator
// concern, exercised in internal/quota; the orchestrator layer only
// consumes the already-computed quotaOK bool for ordering, which
// internal/registry's Order tests cover.
