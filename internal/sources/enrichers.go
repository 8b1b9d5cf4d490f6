package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
)

// Crossref looks journals up in the Crossref REST API.
type Crossref struct {
	doer httpclient.Doer
	opts Options
}

// NewCrossref builds a Crossref client.
func NewCrossref(doer httpclient.Doer, opts Options) *Crossref {
	return &Crossref{doer: doer, opts: opts}
}

// Source implements Enricher.
func (c *Crossref) Source() journal.Source { return journal.SourceCrossref }

// NotFoundIsNoData implements Enricher.
func (c *Crossref) NotFoundIsNoData() bool { return true }

// Lookup implements Enricher.
func (c *Crossref) Lookup(ctx context.Context, key Key) (httpclient.Result, error) {
	q := url.Values{}
	if c.opts.Mailto != "" {
		q.Set("mailto", c.opts.Mailto)
	}
	var target string
	switch {
	case key.ISSN != "":
		target = joinURL(c.opts.BaseURL, "/journals/"+url.PathEscape(key.ISSN), q)
	case key.Title != "":
		q.Set("query", key.Title)
		q.Set("rows", "1")
		target = joinURL(c.opts.BaseURL, "/journals", q)
	default:
		return httpclient.Result{}, ErrNoKey
	}
	return get(ctx, c.doer, journal.SourceCrossref, target, c.opts.UserAgent)
}

// DOAJ looks journals up in the Directory of Open Access Journals.
type DOAJ struct {
	doer httpclient.Doer
	opts Options
}

// NewDOAJ builds a DOAJ client.
func NewDOAJ(doer httpclient.Doer, opts Options) *DOAJ {
	return &DOAJ{doer: doer, opts: opts}
}

// Source implements Enricher.
func (d *DOAJ) Source() journal.Source { return journal.SourceDOAJ }

// NotFoundIsNoData implements Enricher.
func (d *DOAJ) NotFoundIsNoData() bool { return false }

// Lookup implements Enricher.
func (d *DOAJ) Lookup(ctx context.Context, key Key) (httpclient.Result, error) {
	var query string
	switch {
	case key.ISSN != "":
		query = "issn:" + key.ISSN
	case key.Title != "":
		query = `title:"` + strings.ReplaceAll(key.Title, `"`, `\"`) + `"`
	default:
		return httpclient.Result{}, ErrNoKey
	}
	target := joinURL(d.opts.BaseURL, "/api/search/journals/"+url.PathEscape(query), nil)
	return get(ctx, d.doer, journal.SourceDOAJ, target, d.opts.UserAgent)
}

// NLM searches the NLM Catalog through E-utilities.
type NLM struct {
	doer httpclient.Doer
	opts Options
}

// NewNLM builds an NLM Catalog client.
func NewNLM(doer httpclient.Doer, opts Options) *NLM {
	return &NLM{doer: doer, opts: opts}
}

// Source implements Enricher.
func (n *NLM) Source() journal.Source { return journal.SourceNLM }

// NotFoundIsNoData implements Enricher.
func (n *NLM) NotFoundIsNoData() bool { return false }

// Lookup implements Enricher.
func (n *NLM) Lookup(ctx context.Context, key Key) (httpclient.Result, error) {
	q := url.Values{}
	q.Set("db", "nlmcatalog")
	q.Set("retmode", "json")
	switch {
	case key.ISSN != "":
		q.Set("term", key.ISSN+"[issn]")
	case key.Title != "":
		q.Set("term", key.Title+"[ti]")
	default:
		return httpclient.Result{}, ErrNoKey
	}
	if n.opts.Mailto != "" {
		q.Set("email", n.opts.Mailto)
	}
	target := joinURL(n.opts.BaseURL, "/entrez/eutils/esearch.fcgi", q)
	return get(ctx, n.doer, journal.SourceNLM, target, n.opts.UserAgent)
}

// Wikidata queries the Wikidata SPARQL endpoint.
type Wikidata struct {
	doer httpclient.Doer
	opts Options
}

// NewWikidata builds a Wikidata client.
func NewWikidata(doer httpclient.Doer, opts Options) *Wikidata {
	return &Wikidata{doer: doer, opts: opts}
}

// Source implements Enricher.
func (w *Wikidata) Source() journal.Source { return journal.SourceWikidata }

// NotFoundIsNoData implements Enricher.
func (w *Wikidata) NotFoundIsNoData() bool { return false }

// Lookup implements Enricher.
func (w *Wikidata) Lookup(ctx context.Context, key Key) (httpclient.Result, error) {
	query, err := SPARQL(key)
	if err != nil {
		return httpclient.Result{}, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/sparql-query")
	h.Set("Accept", "application/sparql-results+json")
	if w.opts.UserAgent != "" {
		h.Set("User-Agent", w.opts.UserAgent)
	}
	res, err := w.doer.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    joinURL(w.opts.BaseURL, "/sparql", nil),
		Header: h,
		Body:   []byte(query),
	})
	if err != nil {
		return res, fmt.Errorf("wikidata request: %w", err)
	}
	return res, nil
}

// SPARQL renders the lookup query for key: by ISSN (P236) when present,
// otherwise by exact English label.
func SPARQL(key Key) (string, error) {
	var match string
	switch {
	case key.ISSN != "":
		match = fmt.Sprintf(`?item wdt:P236 "%s" .`, sparqlEscape(key.ISSN))
	case key.Title != "":
		match = fmt.Sprintf(`?item rdfs:label "%s"@en .`, sparqlEscape(key.Title))
	default:
		return "", ErrNoKey
	}
	return `SELECT ?item ?itemLabel ?website ?countryCode ?publisherLabel ?languageCode WHERE {
  ` + match + `
  OPTIONAL { ?item wdt:P856 ?website . }
  OPTIONAL { ?item wdt:P495 ?country . ?country wdt:P297 ?countryCode . }
  OPTIONAL { ?item wdt:P123 ?publisher . }
  OPTIONAL { ?item wdt:P407 ?language . ?language wdt:P218 ?languageCode . }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en" . }
}
LIMIT 50`, nil
}

func sparqlEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}

// Wikipedia fetches page summaries from the English Wikipedia REST API. Only
// titles can be looked up.
type Wikipedia struct {
	doer httpclient.Doer
	opts Options
}

// NewWikipedia builds a Wikipedia client.
func NewWikipedia(doer httpclient.Doer, opts Options) *Wikipedia {
	return &Wikipedia{doer: doer, opts: opts}
}

// Source implements Enricher.
func (w *Wikipedia) Source() journal.Source { return journal.SourceWikipedia }

// NotFoundIsNoData implements Enricher.
func (w *Wikipedia) NotFoundIsNoData() bool { return true }

// Lookup implements Enricher.
func (w *Wikipedia) Lookup(ctx context.Context, key Key) (httpclient.Result, error) {
	title := strings.TrimSpace(key.Title)
	if title == "" {
		return httpclient.Result{}, ErrNoKey
	}
	title = strings.ReplaceAll(title, " ", "_")
	target := joinURL(w.opts.BaseURL, "/api/rest_v1/page/summary/"+url.PathEscape(title), nil)
	return get(ctx, w.doer, journal.SourceWikipedia, target, w.opts.UserAgent)
}

func get(ctx context.Context, doer httpclient.Doer, source journal.Source, target, userAgent string) (httpclient.Result, error) {
	res, err := doer.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: jsonHeader(userAgent),
	})
	if err != nil {
		return res, fmt.Errorf("%s request: %w", source, err)
	}
	return res, nil
}
