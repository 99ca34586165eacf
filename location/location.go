// Package location resolves the Distrito → Concelho → Freguesia hierarchy
// from imovirtual search URLs. The source encodes geography as path segments
// after the property-type segment, e.g.
// .../resultados/comprar/apartamento/lisboa/sintra/agualva-e-mira-sintra.
package location

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// typeSegment anchors the positional decomposition. Only apartment-sale URLs
// are scraped, matching the dataset the downstream model is trained on.
const typeSegment = "apartamento"

// Hierarchy holds the resolved administrative levels. Each level is
// independently nil when the URL does not carry it; all-nil is a valid
// result, not a failure.
type Hierarchy struct {
	Distrito  *string
	Concelho  *string
	Freguesia *string
}

// Resolve decomposes a search URL into the three-level hierarchy. It never
// fails on malformed input — missing or unparseable segments simply come
// back nil.
func Resolve(rawURL string) Hierarchy {
	var h Hierarchy

	// Strip query parameters (?limit=72 etc.) before splitting the path.
	base := rawURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}

	var segments []string
	for _, s := range strings.Split(base, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	idx := -1
	for i, s := range segments {
		if s == typeSegment {
			idx = i
			break
		}
	}
	if idx < 0 {
		return h
	}

	remaining := segments[idx+1:]
	if len(remaining) > 0 {
		h.Distrito = cleanSlug(remaining[0])
	}
	if len(remaining) > 1 {
		h.Concelho = cleanSlug(remaining[1])
	}
	if len(remaining) > 2 {
		h.Freguesia = cleanSlug(remaining[2])
	}
	return h
}

// FromRawLocation derives a partial hierarchy from the human-readable
// "city, district" location string shown on listing cards, used when the
// search URL carries no geographic segments. The city maps to concelho and
// the district to distrito; the freguesia is never recoverable this way.
func FromRawLocation(raw string) Hierarchy {
	var h Hierarchy

	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch len(parts) {
	case 0:
		return h
	case 1:
		h.Concelho = &parts[0]
	default:
		h.Concelho = &parts[0]
		h.Distrito = &parts[len(parts)-1]
	}
	return h
}

// cleanSlug turns a URL slug into a display name: "sao-jose" → "Sao Jose".
func cleanSlug(s string) *string {
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.ReplaceAll(s, "-", " ")
	s = title(s)
	if s == "" {
		return nil
	}
	return &s
}

// title upper-cases the first letter of each space-separated word.
// Unescaped slugs can start with accented letters ("águeda"), so the first
// rune is decoded rather than sliced byte-wise.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
