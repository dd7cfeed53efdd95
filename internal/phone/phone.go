// Package phone canonicalizes guest phone numbers for lookup.
//
// Messaging providers deliver the same subscriber in several shapes
// (international with or without "+", local with a leading zero, bare
// subscriber number). Variants expands a raw number into every plausible
// representation so that any shape on record matches any shape received.
package phone

import "strings"

// DefaultCountryCode is the numbering scheme used when none is configured.
const DefaultCountryCode = "972"

// Canonicalizer produces phone number representations for one numbering
// scheme. It is pure and safe for concurrent use.
type Canonicalizer struct {
	countryCode string
}

func NewCanonicalizer(countryCode string) *Canonicalizer {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Canonicalizer{countryCode: strings.TrimPrefix(countryCode, "+")}
}

// stripFormatting removes the characters providers and humans sprinkle
// into numbers: plus signs, spaces, dashes and parentheses.
func stripFormatting(raw string) string {
	replacer := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(raw)
}

// subscriber extracts the bare subscriber number, or "" when the input
// does not match the expected country pattern.
func (c *Canonicalizer) subscriber(digits string) string {
	switch {
	case strings.HasPrefix(digits, c.countryCode):
		rest := strings.TrimPrefix(digits, c.countryCode)
		// Tolerate the "9720..." mistake of keeping the trunk zero
		// after the country code.
		rest = strings.TrimPrefix(rest, "0")
		if len(rest) >= 8 && len(rest) <= 10 {
			return rest
		}
	case strings.HasPrefix(digits, "0") && len(digits) >= 9 && len(digits) <= 11:
		return digits[1:]
	case len(digits) >= 8 && len(digits) <= 10:
		return digits
	}
	return ""
}

// Normalize returns the canonical international form (country code plus
// subscriber number, no plus sign), the shape used for storing and
// sending. Inputs that do not match the country pattern are returned
// with formatting stripped but otherwise untouched.
func (c *Canonicalizer) Normalize(raw string) string {
	digits := stripFormatting(raw)
	sub := c.subscriber(digits)
	if sub == "" {
		return digits
	}
	return c.countryCode + sub
}

// Variants returns an ordered, deduplicated set of representations for
// raw: as received, international with and without the leading "+",
// local leading-zero form, and the bare subscriber number. Used only
// for membership lookups, never for display.
//
// Numbers that do not match the expected country pattern degrade to a
// singleton set rather than an error.
func (c *Canonicalizer) Variants(raw string) []string {
	digits := stripFormatting(raw)
	if digits == "" {
		return []string{raw}
	}

	sub := c.subscriber(digits)
	if sub == "" {
		return []string{digits}
	}

	candidates := []string{
		digits,
		c.countryCode + sub,
		"+" + c.countryCode + sub,
		"0" + sub,
		sub,
	}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, v := range candidates {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}
	return variants
}
