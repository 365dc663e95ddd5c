package provider

import "strings"

// Policy classifies provider message text by configured keyword sets.
// Matching is case-insensitive substring containment. The malfunction check
// is a heuristic: legitimate result messages sometimes contain alarming
// words, so any text that also carries the link keyword is not treated as a
// malfunction report.
type Policy struct {
	PrimaryKeyword      string
	SecondaryKeyword    string
	LinkKeyword         string
	EmptyMarker         string
	MalfunctionKeywords []string
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// IsEmpty reports the provider's distinguished "no result" marker.
func (p Policy) IsEmpty(text string) bool { return containsFold(text, p.EmptyMarker) }

// IsMalfunction reports a provider error message.
func (p Policy) IsMalfunction(text string) bool {
	if p.HasLink(text) {
		return false
	}
	for _, kw := range p.MalfunctionKeywords {
		if containsFold(text, kw) {
			return true
		}
	}
	return false
}

func (p Policy) HasLink(text string) bool { return containsFold(text, p.LinkKeyword) }

// IsPrimary reports a primary-artifact message signature.
func (p Policy) IsPrimary(text string) bool {
	return containsFold(text, p.PrimaryKeyword) && p.HasLink(text)
}

// IsSecondary reports a secondary-artifact message signature.
func (p Policy) IsSecondary(text string) bool {
	return containsFold(text, p.SecondaryKeyword) && p.HasLink(text)
}
