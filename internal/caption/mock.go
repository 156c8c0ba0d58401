package caption

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultDescription = "your post"
	defaultMood        = "Casual"
	mockTag            = "#mockcaption"
)

// Mock returns a deterministic placeholder caption. It never fails and
// is what every fallback path renders.
func Mock(description, mood string) string {
	desc := strings.TrimSpace(description)
	if desc == "" {
		desc = defaultDescription
	}
	m := cases.Title(language.Und).String(strings.TrimSpace(mood))
	if m == "" {
		m = defaultMood
	}
	return fmt.Sprintf("%s vibe: %s. %s", m, desc, mockTag)
}
