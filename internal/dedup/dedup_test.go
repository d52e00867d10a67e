package dedup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSubjectsCommutativeAndIdempotent(t *testing.T) {
	a := []string{"World War II", "History"}
	b := []string{"Biography", "Churchill", "history"}

	ab := MergeSubjects(a, b)
	ba := MergeSubjects(b, a)

	// Commutative modulo first-seen casing: ab keeps "History", ba keeps "history".
	lower := func(vs []string) []string {
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = strings.ToLower(v)
		}
		return out
	}
	assert.ElementsMatch(t, lower(ab), lower(ba))
	assert.Equal(t, ab, MergeSubjects(ab)) // merge(A,A) = A (deduplicated)
}

func TestMergeSubjectsPreservesFirstSeenCasing(t *testing.T) {
	merged := MergeSubjects([]string{"World War II"}, []string{"world war ii"})
	assert.Equal(t, []string{"World War II"}, merged)
}

func TestMetadataScenarioSubjectMerge(t *testing.T) {
	p1 := []string{"World War II", "History"}
	p2 := []string{"Biography", "Churchill"}
	s1 := []string{"World War II", "London", "Blitz"}

	merged := MergeSubjects(p1, p2, s1)
	assert.Equal(t, []string{"World War II", "History", "Biography", "Churchill", "London", "Blitz"}, merged)
}

func TestTitleDeduperDropsExactNormalizedMatchFast(t *testing.T) {
	d := NewTitleDeduper(0.6)
	assert.True(t, d.Accept("The Midnight Library"))
	assert.False(t, d.Accept("the midnight library"))
}

func TestTitleDeduperFuzzyMatchAboveThreshold(t *testing.T) {
	d := NewTitleDeduper(0.6)
	assert.True(t, d.Accept("The Midnight Library"))
	assert.False(t, d.Accept("The Midnite Library")) // spelling variant: edit distance 3 of 16, similarity ~0.81
}

func TestTitleDeduperDistinctTitlesBothAccepted(t *testing.T) {
	d := NewTitleDeduper(0.6)
	assert.True(t, d.Accept("The Midnight Library"))
	assert.True(t, d.Accept("Project Hail Mary"))
}
