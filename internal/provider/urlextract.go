package provider

import (
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`)

const trailingPunct = ".,;:!?\"'"

// FirstURL extracts the first URL-shaped substring from text.
// Trailing sentence punctuation is stripped, and a trailing close paren is
// dropped only when it has no matching open paren inside the URL (so
// wiki-style URLs like .../Foo_(bar) survive).
func FirstURL(text string) string {
	u := urlRe.FindString(text)
	if u == "" {
		return ""
	}
	for len(u) > 0 {
		last := u[len(u)-1]
		if strings.IndexByte(trailingPunct, last) >= 0 {
			u = u[:len(u)-1]
			continue
		}
		if last == ')' && strings.Count(u, "(") < strings.Count(u, ")") {
			u = u[:len(u)-1]
			continue
		}
		break
	}
	return u
}
