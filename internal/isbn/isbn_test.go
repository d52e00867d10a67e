package isbn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAcceptsCleanISBN13(t *testing.T) {
	got, ok := Normalize("9780306406157")
	assert.True(t, ok)
	assert.Equal(t, "9780306406157", got)
}

func TestNormalizeStripsHyphensAndSpacesFromISBN13(t *testing.T) {
	got, ok := Normalize("978-0 306-40615-7")
	assert.True(t, ok)
	assert.Equal(t, "9780306406157", got)
}

func TestNormalizeRejectsBadISBN13Checksum(t *testing.T) {
	_, ok := Normalize("9780306406158")
	assert.False(t, ok)
}

func TestNormalizeConvertsISBN10ToISBN13(t *testing.T) {
	got, ok := Normalize("0306406152")
	assert.True(t, ok)
	assert.Equal(t, "9780306406157", got)
}

func TestNormalizeConvertsHyphenatedISBN10WithXCheckDigit(t *testing.T) {
	got, ok := Normalize("0-8044-2957-X")
	assert.True(t, ok)
	assert.Len(t, got, 13)
	assert.True(t, validChecksum13(got))
}

func TestNormalizeRejectsBadISBN10Checksum(t *testing.T) {
	_, ok := Normalize("0306406153")
	assert.False(t, ok)
}

func TestNormalizeRejectsNonDigitGarbage(t *testing.T) {
	_, ok := Normalize("not-an-isbn")
	assert.False(t, ok)
}

func TestNormalizeRejectsWrongLength(t *testing.T) {
	_, ok := Normalize("12345")
	assert.False(t, ok)
}
