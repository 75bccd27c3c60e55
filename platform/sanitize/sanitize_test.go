package sanitize

import "testing"

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"João":                           "João",
		"  <b>Maria</b>\n  Silva ":       "Maria Silva",
		"&lt;script&gt;x&lt;/script&gt;": "x",
		"":                               "",
	}
	for in, want := range tests {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}
