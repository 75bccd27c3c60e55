package phone

// Variants returns every stored form a lead's phone may have been written in:
// the digits as received, the local and full numbers and, for domestic
// mobiles, the forms with and without the ninth digit. The order is stable and
// duplicates are removed.
func Variants(c Canonical) []string {
	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(c.Digits)
	if c.Opaque {
		return out
	}
	add(c.LocalNumber)
	add(c.FullNumber)

	if !c.Domestic || len(c.LocalNumber) < 10 {
		return out
	}
	area, subscriber := c.LocalNumber[:2], c.LocalNumber[2:]
	switch len(subscriber) {
	case 9:
		if subscriber[0] == '9' {
			short := area + subscriber[1:]
			add(short)
			add(DefaultCountryCode + short)
		}
	case 8:
		long := area + "9" + subscriber
		add(long)
		add(DefaultCountryCode + long)
	}
	return out
}

// Suffix returns the last n digits of s, or s itself when shorter.
func Suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// CommonTrailingDigits counts how many trailing digits a and b share.
func CommonTrailingDigits(a, b string) int {
	a, b = Digits(a), Digits(b)
	n := 0
	for i, j := len(a)-1, len(b)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if a[i] != b[j] {
			break
		}
		n++
	}
	return n
}
