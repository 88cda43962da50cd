package pricing

import (
	"fmt"
	"math"
	"strings"
)

// picoPerUSD is the number of picoUSD (1e-12 USD) in one USD.
const picoPerUSD = 1e12

// maxFracDigits is the decimal precision of the picoUSD unit.
const maxFracDigits = 12

// RoundPico converts a non-negative USD amount to integer picoUSD, rounding
// to nearest with ties away from zero. Non-finite or negative inputs map to 0
// so a broken upstream quote can never produce a negative charge.
func RoundPico(usd float64) int64 {
	if math.IsNaN(usd) || math.IsInf(usd, 0) || usd <= 0 {
		return 0
	}
	return int64(math.Round(usd * picoPerUSD))
}

// UsdToPico parses a non-negative decimal USD string into integer picoUSD.
// Fractional digits beyond the 12th are rounded half-up on the 13th digit.
// This string path avoids float64 representation error for user-facing
// amounts, so PicoToUsd(UsdToPico(s)) == s for canonical inputs.
func UsdToPico(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("pricing: empty usd amount")
	}
	if s[0] == '-' {
		return 0, fmt.Errorf("pricing: negative usd amount %q", s)
	}
	s = strings.TrimPrefix(s, "+")

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return 0, fmt.Errorf("pricing: malformed usd amount %q", s)
	}

	var pico int64
	for _, c := range []byte(intPart) {
		d := int64(c - '0')
		if pico > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("pricing: usd amount %q overflows picoUSD", s)
		}
		pico = pico*10 + d
	}
	if pico > math.MaxInt64/int64(picoPerUSD) {
		return 0, fmt.Errorf("pricing: usd amount %q overflows picoUSD", s)
	}
	pico *= int64(picoPerUSD)

	// Scale the fraction to 12 digits, rounding half-up on the 13th.
	frac := fracPart
	roundUp := false
	if len(frac) > maxFracDigits {
		roundUp = frac[maxFracDigits] >= '5'
		frac = frac[:maxFracDigits]
	}
	for len(frac) < maxFracDigits {
		frac += "0"
	}
	var fracPico int64
	for _, c := range []byte(frac) {
		fracPico = fracPico*10 + int64(c-'0')
	}
	if roundUp {
		fracPico++
	}
	if pico > math.MaxInt64-fracPico {
		return 0, fmt.Errorf("pricing: usd amount %q overflows picoUSD", s)
	}
	return pico + fracPico, nil
}

// PicoToUsd formats integer picoUSD as a canonical decimal USD string:
// no leading zeros, no trailing fractional zeros, no trailing dot.
func PicoToUsd(pico int64) string {
	if pico < 0 {
		pico = 0
	}
	whole := pico / int64(picoPerUSD)
	frac := pico % int64(picoPerUSD)
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	fs := strings.TrimRight(fmt.Sprintf("%012d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, fs)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
