// Package merge combines the authoritative record with enrichment fragments
// into one canonical record, resolving overlapping fields by source priority
// and recording which source won each field.
package merge

// Fragment is a typed optional: a source either contributed a value or it
// did not.
type Fragment[T any] struct {
	value   T
	present bool
}

// Present wraps a contributed value.
func Present[T any](v T) Fragment[T] {
	return Fragment[T]{value: v, present: true}
}

// Absent marks a source that contributed nothing.
func Absent[T any]() Fragment[T] {
	return Fragment[T]{}
}

// Get returns the value and whether it is present.
func (f Fragment[T]) Get() (T, bool) {
	return f.value, f.present
}

// IsPresent reports whether the fragment carries a value.
func (f Fragment[T]) IsPresent() bool {
	return f.present
}

// Authoritative holds the fields taken from the authoritative source.
type Authoritative struct {
	ID          string
	DisplayName string
	Publisher   string
	CountryCode string
	Homepage    string
	IsOA        *bool
	ISSNL       string
	ISSNs       []string
	Subjects    []string
	WorksCount  int64
}

// ISSN is an identifier asserted by an enrichment source.
type ISSN struct {
	Value string
	Kind  string
}

// Crossref is the citation registry fragment.
type Crossref struct {
	Title     string
	Publisher string
	Subjects  []string
	ISSNs     []ISSN
}

// DOAJ is the open-access directory fragment. Presence implies open access.
type DOAJ struct {
	Title     string
	Publisher string
	Country   string
	Homepage  string
	Languages []string
	Subjects  []string
	ISSNs     []ISSN
}

// NLM is the catalog fragment; it only confirms presence.
type NLM struct {
	IDs []string
}

// Wikidata is the knowledge graph fragment.
type Wikidata struct {
	ID        string
	Label     string
	Homepage  string
	Country   string
	Publisher string
	Languages []string
}

// Wikipedia is the encyclopedia fragment.
type Wikipedia struct {
	Title   string
	URL     string
	Extract string
}

// Ranking is a journal citation report row from the local rankings database.
type Ranking struct {
	Year         int
	ImpactFactor *float64
	Quartile     string
	Category     string
}
