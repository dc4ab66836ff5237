package webhook

import (
	"strings"
	"testing"
)

func TestCleanName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Mona", "Mona"},
		{"  Layla 🌙 ", "Layla 🌙"},
		{"<b>Mona</b> & Co", "Mona & Co"},
		{"O'Brien", "O'Brien"},
		{"<script>alert(1)</script>Ali", "Ali"},
		{"Ahmed\nSaid", "AhmedSaid"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := cleanName(tc.in); got != tc.want {
			t.Errorf("cleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("م", maxNameLen+10)
	if got := []rune(cleanName(long)); len(got) != maxNameLen {
		t.Fatalf("long name kept %d runes", len(got))
	}
}
