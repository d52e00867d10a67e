// Package isbn normalizes and validates ISBN-13 strings for the
// enrichment queue consumer (spec.md §4.G.2 step 1, "normalise ISBN"), per
// spec.md §3's "Identity: ISBN-13, normalized (digits only, ISBN-10
// converted)" and §8's "accepts both 10- and 13-digit inputs (converting
// ISBN-10 to ISBN-13 via the standard checksum rule)".
//
// The teacher's internal/gr.go imports github.com/blampe/isbn for the same
// purpose, but that module is absent from the teacher's own go.mod (no
// resolvable version anywhere in the retrieved pack), so it cannot be
// wired without fabricating a dependency. This package reimplements the
// normalize+convert+checksum slice of that functionality against the
// stdlib, per DESIGN.md's justification for this one case.
package isbn

import "strings"

// Normalize strips separators and validates an ISBN, converting a
// hyphenated/spaced 10- or 13-digit input into its canonical 13-digit
// form. A 10-digit input is converted to ISBN-13 (drop its check digit,
// prepend the "978" Bookland prefix, recompute the ISBN-13 checksum)
// before validation. It returns ok=false for anything that isn't a
// well-formed ISBN-10 or ISBN-13.
func Normalize(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case (r == 'x' || r == 'X') && b.Len() == 9:
			// Only valid as the final check digit of an ISBN-10.
			b.WriteRune('X')
		case r == '-' || r == ' ':
			continue
		default:
			return "", false
		}
	}
	digits := b.String()

	switch len(digits) {
	case 10:
		if !validChecksum10(digits) {
			return "", false
		}
		digits = convert10to13(digits)
	case 13:
		if !validChecksum13(digits) {
			return "", false
		}
	default:
		return "", false
	}
	return digits, true
}

// validChecksum10 verifies an ISBN-10's weighted mod-11 checksum
// (weights 10..1 on the first 9 digits, remainder from the 10th digit or
// 'X' standing for 10, sum divisible by 11).
func validChecksum10(digits string) bool {
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	last := digits[9]
	if last == 'X' {
		sum += 10
	} else {
		sum += int(last - '0')
	}
	return sum%11 == 0
}

// convert10to13 drops the ISBN-10 check digit, prepends "978", and
// recomputes the ISBN-13 checksum over the resulting 12 digits.
func convert10to13(isbn10 string) string {
	base := "978" + isbn10[:9]
	sum := 0
	for i, r := range base {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	check := (10 - sum%10) % 10
	return base + string(rune('0'+check))
}

func validChecksum13(digits string) bool {
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	return sum%10 == 0
}
