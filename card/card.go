// Package card provides stateless helpers for validating and displaying
// payment card numbers: Luhn checksums, IIN based brand detection, display
// grouping and expiry checks.
//
// Functions never return the raw number back to callers beyond formatting,
// so callers can keep only the brand and last four digits around.
package card

import (
	"strconv"
	"strings"
	"time"
)

// Brand identifies a card network.
type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandDiscover   Brand = "discover"
	BrandUnknown    Brand = "unknown"
)

// BrandInfo describes a detected network for display.
type BrandInfo struct {
	Brand Brand  `json:"brand"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

var brands = map[Brand]BrandInfo{
	BrandVisa:       {Brand: BrandVisa, Name: "Visa", Color: "#1A1F71"},
	BrandMastercard: {Brand: BrandMastercard, Name: "Mastercard", Color: "#EB001B"},
	BrandAmex:       {Brand: BrandAmex, Name: "American Express", Color: "#2E77BC"},
	BrandDiscover:   {Brand: BrandDiscover, Name: "Discover", Color: "#FF6000"},
	BrandUnknown:    {Brand: BrandUnknown, Name: "Unknown", Color: "#6B7280"},
}

// brandRule matches the leading digits of a card number. Rules are evaluated
// in declaration order and the first match wins.
type brandRule struct {
	brand Brand
	match func(digits string) bool
}

var brandRules = []brandRule{
	{BrandVisa, func(d string) bool { return strings.HasPrefix(d, "4") }},
	{BrandMastercard, func(d string) bool {
		return prefixInRange(d, 2, 51, 55) || prefixInRange(d, 4, 2221, 2720)
	}},
	{BrandAmex, func(d string) bool {
		return strings.HasPrefix(d, "34") || strings.HasPrefix(d, "37")
	}},
	{BrandDiscover, func(d string) bool {
		return strings.HasPrefix(d, "6011") ||
			prefixInRange(d, 6, 622126, 622925) ||
			prefixInRange(d, 3, 644, 649) ||
			strings.HasPrefix(d, "65")
	}},
}

// Digits strips every non-digit character from value.
func Digits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LuhnCheck reports whether the digits of number carry a valid mod-10 check
// digit. Non-digit characters are ignored; an input without digits is invalid.
func LuhnCheck(number string) bool {
	digits := Digits(number)
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// DetectBrand resolves the card network from the number's IIN prefix.
func DetectBrand(number string) BrandInfo {
	digits := Digits(number)
	for _, rule := range brandRules {
		if rule.match(digits) {
			return brands[rule.brand]
		}
	}
	return brands[BrandUnknown]
}

// FormatCardNumber groups the digits of value for display: 4-6-5 for
// American Express and blocks of four for every other network.
func FormatCardNumber(value string) string {
	digits := Digits(value)
	if DetectBrand(digits).Brand == BrandAmex {
		if len(digits) > 15 {
			digits = digits[:15]
		}
		return group(digits, 4, 6, 5)
	}
	return group(digits, 4, 4, 4, 4, 4)
}

// Last4 returns the final four digits of number, or all of them when shorter.
func Last4(number string) string {
	digits := Digits(number)
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// Mask renders a display string such as "•••• 4242".
func Mask(number string) string {
	return "•••• " + Last4(number)
}

// ValidateExpiry reports whether a card expiring at month/year is still valid
// according to the wall clock.
func ValidateExpiry(month, year int) bool {
	return ValidateExpiryAt(month, year, time.Now())
}

// ValidateExpiryAt is ValidateExpiry against an explicit point in time.
// Two digit years are read as 20YY. A card stays valid through the whole of
// its expiry month.
func ValidateExpiryAt(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year >= 0 && year < 100 {
		year += 2000
	}
	currentYear, currentMonth := now.Year(), int(now.Month())
	if year < currentYear {
		return false
	}
	if year == currentYear && month < currentMonth {
		return false
	}
	return true
}

func prefixInRange(digits string, width, lo, hi int) bool {
	if len(digits) < width {
		return false
	}
	n, err := strconv.Atoi(digits[:width])
	if err != nil {
		return false
	}
	return n >= lo && n <= hi
}

func group(digits string, sizes ...int) string {
	var parts []string
	rest := digits
	for i := 0; len(rest) > 0; i++ {
		size := 4
		if i < len(sizes) {
			size = sizes[i]
		}
		if size > len(rest) {
			size = len(rest)
		}
		parts = append(parts, rest[:size])
		rest = rest[size:]
	}
	return strings.Join(parts, " ")
}
