package merge

import (
	"sort"
	"strings"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

// Field names used as provenance keys.
const (
	FieldTitle        = "title"
	FieldPublisher    = "publisher"
	FieldCountry      = "country"
	FieldHomepage     = "homepage"
	FieldOpenAccess   = "open_access"
	FieldLanguages    = "languages"
	FieldSubjects     = "subjects"
	FieldImpactFactor = "impact_factor"
	FieldQuartile     = "jcr_quartile"
)

// Input collects the authoritative record and every enrichment fragment.
type Input struct {
	Authoritative Authoritative
	Crossref      Fragment[Crossref]
	DOAJ          Fragment[DOAJ]
	NLM           Fragment[NLM]
	Wikidata      Fragment[Wikidata]
	Wikipedia     Fragment[Wikipedia]
	Ranking       Fragment[Ranking]
}

// Result is the merged record plus the winning source per field.
type Result struct {
	Fields     journal.AggregatedFields
	Provenance map[string]string
}

type candidate struct {
	value  string
	source string
}

// Merge resolves every aggregated field. It is deterministic and has no side
// effects.
func Merge(in Input) Result {
	crossref, hasCrossref := in.Crossref.Get()
	doaj, hasDOAJ := in.DOAJ.Get()
	nlm, hasNLM := in.NLM.Get()
	wikidata, hasWikidata := in.Wikidata.Get()
	wikipedia, hasWikipedia := in.Wikipedia.Get()
	auth := in.Authoritative

	openalex := string(journal.SourceOpenAlex)
	src := func(ok bool, value string, s journal.Source) candidate {
		if !ok {
			return candidate{}
		}
		return candidate{value: value, source: string(s)}
	}

	res := Result{Provenance: make(map[string]string)}
	f := &res.Fields

	f.Title = res.pick(FieldTitle,
		src(hasDOAJ, doaj.Title, journal.SourceDOAJ),
		src(hasCrossref, crossref.Title, journal.SourceCrossref),
		candidate{value: auth.DisplayName, source: openalex},
		src(hasWikidata, wikidata.Label, journal.SourceWikidata),
	)
	f.Publisher = res.pick(FieldPublisher,
		src(hasDOAJ, doaj.Publisher, journal.SourceDOAJ),
		src(hasCrossref, crossref.Publisher, journal.SourceCrossref),
		candidate{value: auth.Publisher, source: openalex},
		src(hasWikidata, wikidata.Publisher, journal.SourceWikidata),
	)
	f.Country = res.pick(FieldCountry,
		src(hasDOAJ, doaj.Country, journal.SourceDOAJ),
		candidate{value: auth.CountryCode, source: openalex},
		src(hasWikidata, wikidata.Country, journal.SourceWikidata),
	)
	f.Homepage = res.pick(FieldHomepage,
		src(hasDOAJ, doaj.Homepage, journal.SourceDOAJ),
		candidate{value: auth.Homepage, source: openalex},
		src(hasWikidata, wikidata.Homepage, journal.SourceWikidata),
	)

	switch {
	case hasDOAJ:
		f.OpenAccess = journal.Ptr(true)
		res.Provenance[FieldOpenAccess] = string(journal.SourceDOAJ)
	case auth.IsOA != nil:
		f.OpenAccess = journal.Ptr(*auth.IsOA)
		res.Provenance[FieldOpenAccess] = openalex
	}

	var langs, subjects unioner
	if hasDOAJ {
		langs.add(string(journal.SourceDOAJ), doaj.Languages)
		subjects.add(string(journal.SourceDOAJ), doaj.Subjects)
	}
	if hasWikidata {
		langs.add(string(journal.SourceWikidata), wikidata.Languages)
	}
	if hasCrossref {
		subjects.add(string(journal.SourceCrossref), crossref.Subjects)
	}
	subjects.add(openalex, auth.Subjects)
	f.Languages = langs.values
	f.Subjects = subjects.values
	if p := langs.provenance(); p != "" {
		res.Provenance[FieldLanguages] = p
	}
	if p := subjects.provenance(); p != "" {
		res.Provenance[FieldSubjects] = p
	}

	if hasNLM {
		f.InNLM = true
		f.NLMIDs = dedupe(nlm.IDs)
	}
	if hasWikidata {
		f.InWikidata = true
		f.WikidataID = wikidata.ID
	}
	if hasWikipedia {
		f.InWikipedia = true
		f.WikipediaURL = wikipedia.URL
		f.WikipediaExtract = wikipedia.Extract
	}

	if ranking, ok := in.Ranking.Get(); ok {
		if ranking.ImpactFactor != nil {
			f.ImpactFactor = journal.Ptr(*ranking.ImpactFactor)
			res.Provenance[FieldImpactFactor] = journal.ProvenanceJCR
		}
		if q := strings.TrimSpace(ranking.Quartile); q != "" {
			f.JCRQuartile = q
			res.Provenance[FieldQuartile] = journal.ProvenanceJCR
		}
		if f.ImpactFactor != nil || f.JCRQuartile != "" {
			f.JCRYear = ranking.Year
		}
	}
	return res
}

// pick returns the first candidate with a non-blank value and records its
// source.
func (r *Result) pick(field string, candidates ...candidate) string {
	for _, c := range candidates {
		if c.source == "" {
			continue
		}
		if v := strings.TrimSpace(c.value); v != "" {
			r.Provenance[field] = c.source
			return v
		}
	}
	return ""
}

// unioner accumulates array values, de-duplicating case-insensitively while
// keeping first-seen order and spelling.
type unioner struct {
	values  []string
	seen    map[string]struct{}
	sources []string
}

func (u *unioner) add(source string, values []string) {
	contributed := false
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if u.seen == nil {
			u.seen = make(map[string]struct{})
		}
		if _, ok := u.seen[key]; ok {
			continue
		}
		u.seen[key] = struct{}{}
		u.values = append(u.values, v)
		contributed = true
	}
	if contributed {
		u.sources = append(u.sources, source)
	}
}

func (u *unioner) provenance() string {
	if len(u.sources) == 0 {
		return ""
	}
	out := append([]string(nil), u.sources...)
	sort.Strings(out)
	return strings.Join(out, ",")
}

func dedupe(values []string) []string {
	var u unioner
	u.add("", values)
	return u.values
}
