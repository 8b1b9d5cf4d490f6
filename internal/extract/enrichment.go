package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/journal-crawler/internal/merge"
)

type crossrefJournal struct {
	Title     string   `json:"title"`
	Publisher string   `json:"publisher"`
	ISSN      []string `json:"ISSN"`
	ISSNType  []struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"issn-type"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
}

type crossrefEnvelope struct {
	Message json.RawMessage `json:"message"`
}

// Crossref decodes either a single-journal or a query response; for queries the
// first item is used.
func Crossref(body []byte) (merge.Fragment[merge.Crossref], error) {
	var env crossrefEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return merge.Absent[merge.Crossref](), fmt.Errorf("%w: crossref: %v", ErrMalformed, err)
	}
	if len(env.Message) == 0 || string(env.Message) == "null" {
		return merge.Absent[merge.Crossref](), nil
	}
	var list struct {
		Items *[]crossrefJournal `json:"items"`
	}
	if err := json.Unmarshal(env.Message, &list); err != nil {
		return merge.Absent[merge.Crossref](), fmt.Errorf("%w: crossref message: %v", ErrMalformed, err)
	}
	var item crossrefJournal
	if list.Items != nil {
		if len(*list.Items) == 0 {
			return merge.Absent[merge.Crossref](), nil
		}
		item = (*list.Items)[0]
	} else if err := json.Unmarshal(env.Message, &item); err != nil {
		return merge.Absent[merge.Crossref](), fmt.Errorf("%w: crossref journal: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(item.Title) == "" && len(item.ISSN) == 0 {
		return merge.Absent[merge.Crossref](), nil
	}
	out := merge.Crossref{
		Title:     strings.TrimSpace(item.Title),
		Publisher: strings.TrimSpace(item.Publisher),
	}
	for _, s := range item.Subjects {
		out.Subjects = append(out.Subjects, s.Name)
	}
	for _, t := range item.ISSNType {
		out.ISSNs = append(out.ISSNs, merge.ISSN{Value: t.Value, Kind: t.Type})
	}
	return merge.Present(out), nil
}

type doajResponse struct {
	Results []struct {
		Bibjson struct {
			Title     string `json:"title"`
			Publisher struct {
				Name    string `json:"name"`
				Country string `json:"country"`
			} `json:"publisher"`
			Ref struct {
				Journal string `json:"journal"`
			} `json:"ref"`
			Language []string `json:"language"`
			Subject  []struct {
				Term string `json:"term"`
			} `json:"subject"`
			PISSN string `json:"pissn"`
			EISSN string `json:"eissn"`
		} `json:"bibjson"`
	} `json:"results"`
}

// DOAJ decodes a journal search response; the first hit is used.
func DOAJ(body []byte) (merge.Fragment[merge.DOAJ], error) {
	var res doajResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return merge.Absent[merge.DOAJ](), fmt.Errorf("%w: doaj: %v", ErrMalformed, err)
	}
	if len(res.Results) == 0 {
		return merge.Absent[merge.DOAJ](), nil
	}
	bib := res.Results[0].Bibjson
	out := merge.DOAJ{
		Title:     strings.TrimSpace(bib.Title),
		Publisher: strings.TrimSpace(bib.Publisher.Name),
		Country:   strings.ToUpper(strings.TrimSpace(bib.Publisher.Country)),
		Homepage:  strings.TrimSpace(bib.Ref.Journal),
	}
	for _, lang := range bib.Language {
		out.Languages = append(out.Languages, strings.ToUpper(strings.TrimSpace(lang)))
	}
	for _, s := range bib.Subject {
		out.Subjects = append(out.Subjects, s.Term)
	}
	if bib.PISSN != "" {
		out.ISSNs = append(out.ISSNs, merge.ISSN{Value: bib.PISSN, Kind: "print"})
	}
	if bib.EISSN != "" {
		out.ISSNs = append(out.ISSNs, merge.ISSN{Value: bib.EISSN, Kind: "electronic"})
	}
	return merge.Present(out), nil
}

type esearchResponse struct {
	Result *struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// NLM decodes an E-utilities esearch response against the NLM Catalog.
func NLM(body []byte) (merge.Fragment[merge.NLM], error) {
	var res esearchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return merge.Absent[merge.NLM](), fmt.Errorf("%w: nlm: %v", ErrMalformed, err)
	}
	if res.Result == nil || len(res.Result.IDList) == 0 {
		return merge.Absent[merge.NLM](), nil
	}
	return merge.Present(merge.NLM{IDs: append([]string(nil), res.Result.IDList...)}), nil
}

type sparqlValue struct {
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results *struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

// Wikidata decodes a SPARQL JSON result set. Rows for the first item are
// folded together; OPTIONAL joins repeat the item once per language.
func Wikidata(body []byte) (merge.Fragment[merge.Wikidata], error) {
	var res sparqlResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return merge.Absent[merge.Wikidata](), fmt.Errorf("%w: wikidata: %v", ErrMalformed, err)
	}
	if res.Results == nil || len(res.Results.Bindings) == 0 {
		return merge.Absent[merge.Wikidata](), nil
	}
	first := res.Results.Bindings[0]
	item := first["item"].Value
	if item == "" {
		return merge.Absent[merge.Wikidata](), nil
	}
	out := merge.Wikidata{
		ID:        ShortID(item),
		Label:     first["itemLabel"].Value,
		Homepage:  first["website"].Value,
		Country:   strings.ToUpper(first["countryCode"].Value),
		Publisher: first["publisherLabel"].Value,
	}
	for _, row := range res.Results.Bindings {
		if row["item"].Value != item {
			continue
		}
		if code := strings.ToUpper(row["languageCode"].Value); code != "" {
			out.Languages = append(out.Languages, code)
		}
		if out.Homepage == "" {
			out.Homepage = row["website"].Value
		}
	}
	if out.Label == out.ID {
		out.Label = ""
	}
	return merge.Present(out), nil
}

type wikipediaSummary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Wikipedia decodes a REST page summary. Disambiguation pages do not count as
// a match.
func Wikipedia(body []byte) (merge.Fragment[merge.Wikipedia], error) {
	var res wikipediaSummary
	if err := json.Unmarshal(body, &res); err != nil {
		return merge.Absent[merge.Wikipedia](), fmt.Errorf("%w: wikipedia: %v", ErrMalformed, err)
	}
	if res.Type == "disambiguation" || res.Type == "no-extract" || strings.TrimSpace(res.Title) == "" {
		return merge.Absent[merge.Wikipedia](), nil
	}
	return merge.Present(merge.Wikipedia{
		Title:   res.Title,
		URL:     res.ContentURLs.Desktop.Page,
		Extract: strings.TrimSpace(res.Extract),
	}), nil
}
