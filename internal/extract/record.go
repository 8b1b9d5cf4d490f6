package extract

import (
	"fmt"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/merge"
)

// Presence reports whether body from source carries a usable record.
func Presence(source journal.Source, body []byte) (bool, error) {
	switch source {
	case journal.SourceOpenAlex:
		auth, err := OpenAlexSource(body)
		return err == nil && auth.ID != "", err
	case journal.SourceCrossref:
		f, err := Crossref(body)
		return f.IsPresent(), err
	case journal.SourceDOAJ:
		f, err := DOAJ(body)
		return f.IsPresent(), err
	case journal.SourceNLM:
		f, err := NLM(body)
		return f.IsPresent(), err
	case journal.SourceWikidata:
		f, err := Wikidata(body)
		return f.IsPresent(), err
	case journal.SourceWikipedia:
		f, err := Wikipedia(body)
		return f.IsPresent(), err
	default:
		return false, fmt.Errorf("no extractor for source %q", source)
	}
}

// Input rebuilds the merge input from the raw payloads stored on a record.
// Payloads that fail to parse contribute nothing.
func Input(rec journal.JournalRecord) merge.Input {
	var in merge.Input
	if body, ok := rec.Raw[journal.SourceOpenAlex]; ok {
		if auth, err := OpenAlexSource(body); err == nil {
			in.Authoritative = auth
		}
	}
	if in.Authoritative.ID == "" {
		in.Authoritative.ID = rec.ID
	}
	if body, ok := rec.Raw[journal.SourceCrossref]; ok {
		in.Crossref, _ = Crossref(body)
	}
	if body, ok := rec.Raw[journal.SourceDOAJ]; ok {
		in.DOAJ, _ = DOAJ(body)
	}
	if body, ok := rec.Raw[journal.SourceNLM]; ok {
		in.NLM, _ = NLM(body)
	}
	if body, ok := rec.Raw[journal.SourceWikidata]; ok {
		in.Wikidata, _ = Wikidata(body)
	}
	if body, ok := rec.Raw[journal.SourceWikipedia]; ok {
		in.Wikipedia, _ = Wikipedia(body)
	}
	return in
}
