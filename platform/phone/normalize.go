// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	// DefaultCountryCode is the domestic country whose numbers get strict validation.
	DefaultCountryCode = "55"
	defaultRegion      = "BR"

	opaqueMinDigits = 15
)

var standardSuffixes = []string{"@c.us", "@s.whatsapp.net"}

// Canonical is a phone identity split into its country and local parts.
type Canonical struct {
	// Digits is the identifier as received with suffixes and punctuation removed.
	Digits      string
	CountryCode string
	LocalNumber string
	FullNumber  string
	Valid       bool
	Domestic    bool
	// Opaque marks a privacy id that is not a dialable number.
	Opaque bool
}

// Canonicalize strips gateway suffixes and punctuation from raw and detects its
// country code. Unknown or malformed numbers are returned with Valid=false and
// the digits kept as both local and full number.
func Canonicalize(raw string) Canonical {
	opaque := IsOpaqueID(raw)
	digits := Digits(raw)
	if opaque {
		return Canonical{Digits: digits, LocalNumber: digits, FullNumber: digits, Opaque: true}
	}

	c := Canonical{Digits: digits, LocalNumber: digits, FullNumber: digits}
	if digits == "" {
		return c
	}

	international := strings.TrimPrefix(digits, "00")
	if international != digits {
		c.FullNumber = international
		c.LocalNumber = international
	}

	if international == digits && len(digits) <= 11 && IsValidDomestic(digits) {
		c.CountryCode = DefaultCountryCode
		c.LocalNumber = digits
		c.FullNumber = DefaultCountryCode + digits
		c.Valid = true
		c.Domestic = true
		return c
	}

	cc := detectCountryCode(international)
	if cc == "" {
		return c
	}
	c.CountryCode = cc
	c.LocalNumber = international[len(cc):]
	c.FullNumber = international

	if cc == DefaultCountryCode {
		c.Domestic = true
		c.Valid = IsValidDomestic(c.LocalNumber)
		return c
	}

	num, err := phonenumbers.Parse("+"+international, "")
	c.Valid = err == nil && phonenumbers.IsValidNumber(num)
	return c
}

// Digits strips the chat suffix, the device suffix and every non-digit.
func Digits(raw string) string {
	id := strings.TrimSpace(raw)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsOpaqueID reports whether raw is a privacy id rather than a phone number:
// either it carries the @lid suffix, or it has at least 15 digits and no
// standard chat suffix.
func IsOpaqueID(raw string) bool {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return false
	}
	if strings.HasSuffix(id, "@lid") {
		return true
	}
	for _, suffix := range standardSuffixes {
		if strings.HasSuffix(id, suffix) {
			return false
		}
	}
	return len(Digits(id)) >= opaqueMinDigits
}

// IsValidDomestic validates a default-country number without country code:
// a whitelisted two digit area code followed by an 8 or 9 digit subscriber
// number, where 9 digit numbers are mobiles starting with 9.
func IsValidDomestic(local string) bool {
	if len(local) != 10 && len(local) != 11 {
		return false
	}
	if allSameDigit(local) {
		return false
	}
	if _, ok := brazilAreaCodes[local[:2]]; !ok {
		return false
	}
	subscriber := local[2:]
	if len(subscriber) == 9 && subscriber[0] != '9' {
		return false
	}
	return true
}

// E164 formats c for outbound gateway calls. Numbers the metadata library
// cannot parse fall back to "+" and the full digits.
func E164(c Canonical) string {
	if c.FullNumber == "" || c.Opaque {
		return ""
	}
	num, err := phonenumbers.Parse("+"+c.FullNumber, defaultRegion)
	if err != nil {
		return "+" + c.FullNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// RegionCode returns the ISO region for c, or "" when unknown.
func RegionCode(c Canonical) string {
	if c.CountryCode == "" {
		return ""
	}
	if c.CountryCode == DefaultCountryCode {
		return defaultRegion
	}
	num, err := phonenumbers.Parse("+"+c.FullNumber, "")
	if err != nil {
		return phonenumbers.GetRegionCodeForCountryCode(atoi(c.CountryCode))
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}

func detectCountryCode(digits string) string {
	for _, table := range []struct {
		size  int
		codes map[string]struct{}
	}{
		{3, countryCodes3},
		{2, countryCodes2},
		{1, countryCodes1},
	} {
		if len(digits) <= table.size {
			continue
		}
		if _, ok := table.codes[digits[:table.size]]; ok {
			return digits[:table.size]
		}
	}
	return ""
}

func allSameDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
