package cpf

import (
	"fmt"
	"testing"
)

func TestValidAcceptsWellFormedNumbers(t *testing.T) {
	valid := []string{
		"11144477735",
		"12345678909",
		"52998224725",
		"111.444.777-35", // formatting is stripped
		" 123.456.789-09 ",
	}
	for _, s := range valid {
		if !Valid(s) {
			t.Errorf("Valid(%q) = false, want true", s)
		}
	}
}

func TestValidRejectsBadChecksums(t *testing.T) {
	invalid := []string{
		"11144477736", // wrong second check digit
		"11144477745", // wrong first check digit
		"12345678900",
	}
	for _, s := range invalid {
		if Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestValidRejectsRepeatedDigitSequences(t *testing.T) {
	// These pass the checksum arithmetic but are not issued documents.
	for d := 0; d <= 9; d++ {
		s := fmt.Sprintf("%d%d%d%d%d%d%d%d%d%d%d", d, d, d, d, d, d, d, d, d, d, d)
		if Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestValidRejectsWrongLength(t *testing.T) {
	invalid := []string{
		"",
		"1234567890",   // 10 digits
		"123456789012", // 12 digits
		"abc",
		"111.444.777-3",
	}
	for _, s := range invalid {
		if Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestCheckDigitMatchesMod11Rule(t *testing.T) {
	// The check digit is 11 - (sum mod 11), collapsed to 0 when the remainder
	// is below 2.
	cases := []struct {
		digits      string
		firstWeight int
		want        int
	}{
		{"111444777", 10, 3},
		{"1114447773", 11, 5},
		{"123456789", 10, 0},
		{"1234567890", 11, 9},
	}
	for _, tc := range cases {
		if got := checkDigit(tc.digits, tc.firstWeight); got != tc.want {
			t.Errorf("checkDigit(%q, %d) = %d, want %d", tc.digits, tc.firstWeight, got, tc.want)
		}
	}
}
