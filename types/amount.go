package types

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatUnits renders an integer token amount as a decimal string scaled by
// decimals. Trailing fractional zeros are trimmed but one digit is always kept,
// so 1000000 with 6 decimals renders as "1.0".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0.0"
	}

	digits := new(big.Int).Abs(amount).String()
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-d]
	frac := strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		frac = "0"
	}

	if amount.Sign() < 0 {
		whole = "-" + whole
	}
	return whole + "." + frac
}

// ParseUnits is the inverse of FormatUnits. Digits beyond the scale are only
// accepted when they are zeros.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && strings.Contains(frac, ".") {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q", value)
	}

	d := int(decimals)
	if len(frac) > d {
		if strings.Trim(frac[d:], "0") != "" {
			return nil, fmt.Errorf("amount %q exceeds %d decimal places", value, decimals)
		}
		frac = frac[:d]
	}
	frac += strings.Repeat("0", d-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
