/**
 * @description
 * This package validates Brazilian CPF numbers (the payer's tax identification
 * document) using the standard mod-11 check-digit algorithm. It is a pure
 * function with no side effects, used by the payer normalizer before a charge
 * is submitted to the gateway.
 */

package cpf

import "strings"

// Valid reports whether s is a well-formed CPF. Formatting characters are
// stripped first; the remainder must be exactly 11 digits whose two trailing
// digits match the weighted mod-11 checksums of the preceding ones.
// Sequences of a single repeated digit pass the checksum arithmetic but are
// not valid documents, so they are rejected outright.
func Valid(s string) bool {
	digits := stripNonDigits(s)
	if len(digits) != 11 {
		return false
	}
	if allSameDigit(digits) {
		return false
	}

	d1 := checkDigit(digits[:9], 10)
	if int(digits[9]-'0') != d1 {
		return false
	}
	d2 := checkDigit(digits[:10], 11)
	return int(digits[10]-'0') == d2
}

// checkDigit computes a CPF check digit over the given digits, weighting the
// first digit with firstWeight and descending to 2.
func checkDigit(digits string, firstWeight int) int {
	sum := 0
	for i, c := range digits {
		sum += int(c-'0') * (firstWeight - i)
	}
	digit := sum * 10 % 11
	if digit == 10 {
		digit = 0
	}
	return digit
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
