package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

const openAlexPageBody = `{
  "meta": {"count": 2, "per_page": 200, "next_cursor": "IlsxMDBd"},
  "results": [
    {
      "id": "https://openalex.org/S137773608",
      "display_name": "Nature",
      "issn_l": "0028-0836",
      "issn": ["0028-0836", "1476-4687", "bogus"],
      "host_organization_name": "Nature Portfolio",
      "country_code": "GB",
      "homepage_url": "http://www.nature.com/nature/",
      "is_oa": false,
      "works_count": 420000,
      "topics": [{"display_name": "Genomics"}]
    },
    {"display_name": "no id"},
    {
      "id": "https://openalex.org/S2",
      "display_name": "Orphan",
      "issn_l": null,
      "issn": null,
      "x_concepts": [{"display_name": "Physics"}]
    }
  ]
}`

func TestOpenAlexPage(t *testing.T) {
	t.Parallel()

	page, err := OpenAlexPage([]byte(openAlexPageBody))
	require.NoError(t, err)
	require.Equal(t, "IlsxMDBd", page.NextCursor)
	require.EqualValues(t, 2, page.Count)
	require.Len(t, page.Items, 2)

	nature := page.Items[0]
	require.Equal(t, "S137773608", nature.ID)
	require.Equal(t, "Nature", nature.Authoritative.DisplayName)
	require.Equal(t, "Nature Portfolio", nature.Authoritative.Publisher)
	require.Equal(t, "0028-0836", nature.Authoritative.ISSNL)
	require.Equal(t, []string{"Genomics"}, nature.Authoritative.Subjects)
	require.False(t, *nature.Authoritative.IsOA)
	require.Equal(t, []journal.IssnAlias{
		{ISSN: "0028-0836", JournalID: "S137773608", Kind: journal.AliasLinking, Source: journal.SourceOpenAlex},
		{ISSN: "1476-4687", JournalID: "S137773608", Kind: journal.AliasUnknown, Source: journal.SourceOpenAlex},
	}, nature.Aliases)
	require.True(t, json.Valid(nature.Raw))

	orphan := page.Items[1]
	require.Empty(t, orphan.Aliases)
	require.Equal(t, []string{"Physics"}, orphan.Authoritative.Subjects)
}

func TestOpenAlexPageLastPage(t *testing.T) {
	t.Parallel()

	page, err := OpenAlexPage([]byte(`{"meta":{"count":0,"next_cursor":null},"results":[]}`))
	require.NoError(t, err)
	require.Empty(t, page.NextCursor)
	require.Empty(t, page.Items)

	_, err = OpenAlexPage([]byte(`<html>`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCrossrefSingleAndQuery(t *testing.T) {
	t.Parallel()

	single := `{"status":"ok","message":{"title":"Nature","publisher":"Springer Nature","ISSN":["0028-0836"],
		"issn-type":[{"value":"0028-0836","type":"print"}],"subjects":[{"name":"Multidisciplinary"}]}}`
	f, err := Crossref([]byte(single))
	require.NoError(t, err)
	got, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, "Nature", got.Title)
	require.Equal(t, "Springer Nature", got.Publisher)
	require.Equal(t, []string{"Multidisciplinary"}, got.Subjects)
	require.Equal(t, "print", got.ISSNs[0].Kind)

	query := `{"status":"ok","message":{"total-results":1,"items":[{"title":"Cell","publisher":"Elsevier"}]}}`
	f, err = Crossref([]byte(query))
	require.NoError(t, err)
	got, ok = f.Get()
	require.True(t, ok)
	require.Equal(t, "Cell", got.Title)

	f, err = Crossref([]byte(`{"status":"ok","message":{"items":[]}}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())

	_, err = Crossref([]byte(`Resource not found.`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDOAJ(t *testing.T) {
	t.Parallel()

	body := `{"total":1,"results":[{"bibjson":{"title":"PLoS ONE","publisher":{"name":"PLOS","country":"us"},
		"ref":{"journal":"https://journals.plos.org/plosone/"},"language":["en"],
		"subject":[{"term":"Medicine"}],"pissn":"","eissn":"1932-6203"}}]}`
	f, err := DOAJ([]byte(body))
	require.NoError(t, err)
	got, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, "US", got.Country)
	require.Equal(t, []string{"EN"}, got.Languages)
	require.Equal(t, "https://journals.plos.org/plosone/", got.Homepage)
	require.Len(t, got.ISSNs, 1)

	f, err = DOAJ([]byte(`{"total":0,"results":[]}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())
}

func TestNLM(t *testing.T) {
	t.Parallel()

	f, err := NLM([]byte(`{"esearchresult":{"count":"1","idlist":["0410462"]}}`))
	require.NoError(t, err)
	got, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, []string{"0410462"}, got.IDs)

	f, err = NLM([]byte(`{"esearchresult":{"count":"0","idlist":[]}}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())

	f, err = NLM([]byte(`{"error":"API rate limit exceeded"}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())
}

func TestWikidataFoldsRows(t *testing.T) {
	t.Parallel()

	body := `{"head":{"vars":["item"]},"results":{"bindings":[
		{"item":{"value":"http://www.wikidata.org/entity/Q180445"},"itemLabel":{"value":"Nature"},
		 "countryCode":{"value":"gb"},"publisherLabel":{"value":"Nature Portfolio"},"languageCode":{"value":"en"}},
		{"item":{"value":"http://www.wikidata.org/entity/Q180445"},"website":{"value":"https://www.nature.com"},
		 "languageCode":{"value":"fr"}},
		{"item":{"value":"http://www.wikidata.org/entity/Q999"},"languageCode":{"value":"de"}}
	]}}`
	f, err := Wikidata([]byte(body))
	require.NoError(t, err)
	got, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, "Q180445", got.ID)
	require.Equal(t, "Nature", got.Label)
	require.Equal(t, "GB", got.Country)
	require.Equal(t, "https://www.nature.com", got.Homepage)
	require.Equal(t, []string{"EN", "FR"}, got.Languages)

	f, err = Wikidata([]byte(`{"results":{"bindings":[]}}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())
}

func TestWikipedia(t *testing.T) {
	t.Parallel()

	body := `{"type":"standard","title":"Nature (journal)","extract":" Nature is a British weekly. ",
		"content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Nature_(journal)"}}}`
	f, err := Wikipedia([]byte(body))
	require.NoError(t, err)
	got, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, "Nature is a British weekly.", got.Extract)
	require.Equal(t, "https://en.wikipedia.org/wiki/Nature_(journal)", got.URL)

	f, err = Wikipedia([]byte(`{"type":"disambiguation","title":"Nature"}`))
	require.NoError(t, err)
	require.False(t, f.IsPresent())
}

func TestPresenceAndInput(t *testing.T) {
	t.Parallel()

	ok, err := Presence(journal.SourceNLM, []byte(`{"esearchresult":{"idlist":["1"]}}`))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Presence(journal.SourceDOAJ, []byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)
	require.False(t, ok)

	_, err = Presence(journal.Source("scopus"), nil)
	require.Error(t, err)

	page, err := OpenAlexPage([]byte(openAlexPageBody))
	require.NoError(t, err)
	rec := journal.JournalRecord{
		ID: "S137773608",
		Raw: map[journal.Source]json.RawMessage{
			journal.SourceOpenAlex:  page.Items[0].Raw,
			journal.SourceCrossref:  json.RawMessage(`{"message":{"title":"Nature (Crossref)"}}`),
			journal.SourceWikipedia: json.RawMessage(`garbage`),
		},
	}
	in := Input(rec)
	require.Equal(t, "Nature", in.Authoritative.DisplayName)
	require.True(t, in.Crossref.IsPresent())
	require.False(t, in.Wikipedia.IsPresent())
	require.False(t, in.DOAJ.IsPresent())
}
