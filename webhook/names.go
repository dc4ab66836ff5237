package webhook

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// namePolicy strips every tag from provider-supplied display names; staff
// dashboards render them.
var namePolicy = bluemonday.StrictPolicy()

// maxNameLen bounds a stored profile name in runes.
const maxNameLen = 128

// cleanName removes markup and control characters from a profile name and
// trims it to maxNameLen runes. The policy escapes entities, which are
// turned back into text so "Mona & Co" survives unchanged.
func cleanName(name string) string {
	name = html.UnescapeString(namePolicy.Sanitize(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}
