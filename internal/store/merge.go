// Package store implements spec.md §4.F: the transactional write path that
// turns orchestrator output into persisted Works, Editions, Authors, and
// the external-ID crosswalk.
//
// The merge rules (merge.go) are kept independent of any database handle so
// they can be exercised directly, mirroring internal/quota's split between
// the pure reservation policy and its pgx-backed store.
package store

import (
	"github.com/jukasdrj/alexandria/internal/dedup"
	"github.com/jukasdrj/alexandria/internal/model"
)

// tierRank orders sources for the monotonic-completeness rule (spec.md §3
// "never overwritten by a lower-tier source unless a confidence override is
// supplied"). Paid sources outrank free catalogs, which outrank AI
// generation.
var tierRank = map[model.Tier]int{
	model.TierPaid: 3,
	model.TierFree: 2,
	model.TierAI:   1,
}

func rank(t model.Tier) int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return 0
}

// existingWork is the subset of stored state the merge needs; the pgx store
// loads it, or it is the zero value when no row exists yet.
type existingWork struct {
	row        model.Work
	sourceTier model.Tier // tier of the last contributor that set scalar fields
	found      bool
}

// mergeWork applies spec.md's enrich_work rules: array fields always union,
// scalar fields only move forward in tier (or are forced by
// confidenceOverride), updated_at is left to EnrichWork's write (which is
// skipped when the merged row hashes unchanged), and Contributors records
// every distinct provider in first-seen order.
func mergeWork(existing existingWork, incoming model.Work, tier model.Tier, provider string, confidenceOverride bool) model.Work {
	out := existing.row
	if !existing.found {
		out = incoming
		out.Contributors = dedup.MergeSubjects(nil, []string{provider})
		out.PrimaryProvider = provider
		return out
	}

	canOverwriteScalars := confidenceOverride || rank(tier) >= rank(existing.sourceTier)

	if canOverwriteScalars {
		out.Title = firstNonEmpty(incoming.Title, out.Title)
		out.Subtitle = firstNonEmpty(incoming.Subtitle, out.Subtitle)
		out.OriginalLanguage = firstNonEmpty(incoming.OriginalLanguage, out.OriginalLanguage)
		if len(incoming.Description) > len(out.Description) {
			out.Description = incoming.Description
		}
		if incoming.FirstPublishedYear != 0 {
			out.FirstPublishedYear = incoming.FirstPublishedYear
		}
		if rank(tier) > rank(existing.sourceTier) || confidenceOverride {
			out.PrimaryProvider = provider
		}
	}

	out.Subjects = dedup.MergeSubjects(out.Subjects, incoming.Subjects)
	out.ExternalIDs = mergeExternalIDMap(out.ExternalIDs, incoming.ExternalIDs)
	out.CoverURLs = mergeCoverURLs(out.CoverURLs, incoming.CoverURLs)
	out.Contributors = dedup.MergeSubjects(out.Contributors, []string{provider})

	return out
}

// existingEdition mirrors existingWork for the per-ISBN edition row.
type existingEdition struct {
	row        model.Edition
	sourceTier model.Tier
	found      bool
}

func mergeEdition(existing existingEdition, incoming model.Edition, tier model.Tier, confidenceOverride bool) model.Edition {
	out := existing.row
	if !existing.found {
		return incoming
	}

	if confidenceOverride || rank(tier) >= rank(existing.sourceTier) {
		out.Title = firstNonEmpty(incoming.Title, out.Title)
		out.Publisher = firstNonEmpty(incoming.Publisher, out.Publisher)
		out.PublishedDate = firstNonEmpty(incoming.PublishedDate, out.PublishedDate)
		out.Binding = firstNonEmpty(incoming.Binding, out.Binding)
		out.Language = firstNonEmpty(incoming.Language, out.Language)
		if incoming.PageCount != 0 {
			out.PageCount = incoming.PageCount
		}
		if incoming.QualityScore > out.QualityScore {
			out.QualityScore = incoming.QualityScore
		}
	}

	out.AlternateISBN = dedup.MergeSubjects(out.AlternateISBN, incoming.AlternateISBN)
	out.ExternalIDs = mergeExternalIDMap(out.ExternalIDs, incoming.ExternalIDs)
	out.CoverURLs = mergeCoverURLs(out.CoverURLs, incoming.CoverURLs)
	return out
}

func mergeExternalIDMap(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// mergeCoverURLs only fills gaps: a cover already resolved for a size is
// never replaced here (the cover processor, not enrich_work, owns
// overwriting a cover URL).
func mergeCoverURLs(a, b model.CoverURLs) model.CoverURLs {
	if a.Large == "" {
		a.Large = b.Large
	}
	if a.Medium == "" {
		a.Medium = b.Medium
	}
	if a.Small == "" {
		a.Small = b.Small
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
