package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jukasdrj/alexandria/internal/model"
)

func TestMergeWorkFirstWriteTakesIncomingWholesale(t *testing.T) {
	w := mergeWork(existingWork{}, model.Work{WorkKey: "w1", Title: "Dune"}, model.TierFree, "free-A", false)
	assert.Equal(t, "Dune", w.Title)
	assert.Equal(t, "free-A", w.PrimaryProvider)
	assert.Equal(t, []string{"free-A"}, w.Contributors)
}

func TestMergeWorkLowerTierNeverOverwritesScalars(t *testing.T) {
	existing := existingWork{
		found:      true,
		sourceTier: model.TierPaid,
		row:        model.Work{WorkKey: "w1", Title: "Paid Title", PrimaryProvider: "paid-A"},
	}
	incoming := model.Work{WorkKey: "w1", Title: "Free Title"}

	merged := mergeWork(existing, incoming, model.TierFree, "free-A", false)

	assert.Equal(t, "Paid Title", merged.Title)
	assert.Equal(t, "paid-A", merged.PrimaryProvider)
}

func TestMergeWorkConfidenceOverrideForcesScalarOverwrite(t *testing.T) {
	existing := existingWork{
		found:      true,
		sourceTier: model.TierPaid,
		row:        model.Work{WorkKey: "w1", Title: "Paid Title", PrimaryProvider: "paid-A"},
	}
	incoming := model.Work{WorkKey: "w1", Title: "Manually Corrected Title"}

	merged := mergeWork(existing, incoming, model.TierFree, "free-A", true)

	assert.Equal(t, "Manually Corrected Title", merged.Title)
	assert.Equal(t, "free-A", merged.PrimaryProvider)
}

func TestMergeWorkAlwaysUnionsSubjectsRegardlessOfTier(t *testing.T) {
	existing := existingWork{
		found:      true,
		sourceTier: model.TierPaid,
		row:        model.Work{WorkKey: "w1", Subjects: []string{"History"}},
	}
	incoming := model.Work{WorkKey: "w1", Subjects: []string{"history", "Biography"}}

	merged := mergeWork(existing, incoming, model.TierFree, "free-A", false)

	assert.Equal(t, []string{"History", "Biography"}, merged.Subjects)
}

func TestMergeWorkContributorsAccumulateAcrossProviders(t *testing.T) {
	existing := existingWork{
		found:      true,
		sourceTier: model.TierPaid,
		row:        model.Work{WorkKey: "w1", Contributors: []string{"paid-A"}},
	}
	merged := mergeWork(existing, model.Work{WorkKey: "w1"}, model.TierFree, "free-A", false)
	assert.Equal(t, []string{"paid-A", "free-A"}, merged.Contributors)
}

func TestMergeEditionRequiresNoOverwriteFromLowerTier(t *testing.T) {
	existing := existingEdition{
		found:      true,
		sourceTier: model.TierPaid,
		row:        model.Edition{ISBN13: "9780385544153", Publisher: "Crown"},
	}
	incoming := model.Edition{ISBN13: "9780385544153", Publisher: "Some Free Catalog"}

	merged := mergeEdition(existing, incoming, model.TierFree, false)
	assert.Equal(t, "Crown", merged.Publisher)
}

func TestMergeEditionUnionsAlternateISBNs(t *testing.T) {
	existing := existingEdition{
		found: true,
		row:   model.Edition{ISBN13: "9780385544153", AlternateISBN: []string{"0385544156"}},
	}
	incoming := model.Edition{ISBN13: "9780385544153", AlternateISBN: []string{"0385544156", "9780385544160"}}

	merged := mergeEdition(existing, incoming, model.TierFree, false)
	assert.Equal(t, []string{"0385544156", "9780385544160"}, merged.AlternateISBN)
}

func TestMergeCoverURLsOnlyFillsGaps(t *testing.T) {
	a := model.CoverURLs{Large: "https://a/large.webp"}
	b := model.CoverURLs{Large: "https://b/large.webp", Medium: "https://b/medium.webp"}

	merged := mergeCoverURLs(a, b)

	assert.Equal(t, "https://a/large.webp", merged.Large) // not replaced
	assert.Equal(t, "https://b/medium.webp", merged.Medium)
}
