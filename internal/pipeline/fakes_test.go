package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/sources"
)

// fakePages serves scripted authoritative pages keyed by cursor.
type fakePages struct {
	mu      sync.Mutex
	pages   map[string]httpclient.Result
	cursors []string
	// block, when set, parks requests for cursors present in the map until
	// the context ends.
	block map[string]bool
}

func newFakePages() *fakePages {
	return &fakePages{pages: make(map[string]httpclient.Result), block: make(map[string]bool)}
}

func (f *fakePages) serve(cursor string, res httpclient.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cursor] = res
}

func (f *fakePages) ListPage(ctx context.Context, cursor string) (httpclient.Result, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	res, ok := f.pages[cursor]
	blocked := f.block[cursor]
	f.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return httpclient.Result{}, ctx.Err()
	}
	if !ok {
		return httpclient.Result{}, fmt.Errorf("GET cursor %s: connection reset", cursor)
	}
	return res, nil
}

func (f *fakePages) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

type pageItem struct {
	id    string
	name  string
	issnL string
}

func okResult(body []byte) httpclient.Result {
	return httpclient.Result{OK: true, Status: http.StatusOK, Body: body}
}

func statusResult(code int) httpclient.Result {
	return httpclient.Result{OK: code >= 200 && code < 300, Status: code, Body: []byte(`{}`)}
}

// pageBody renders an OpenAlex listing page. An empty next ends the listing.
func pageBody(next string, count int64, items ...pageItem) []byte {
	results := make([]map[string]any, 0, len(items))
	for _, it := range items {
		src := map[string]any{
			"id":           "https://openalex.org/" + it.id,
			"display_name": it.name,
			"is_oa":        false,
		}
		if it.issnL != "" {
			src["issn_l"] = it.issnL
			src["issn"] = []string{it.issnL}
		}
		results = append(results, src)
	}
	meta := map[string]any{"count": count}
	if next != "" {
		meta["next_cursor"] = next
	} else {
		meta["next_cursor"] = nil
	}
	body, err := json.Marshal(map[string]any{"meta": meta, "results": results})
	if err != nil {
		panic(err)
	}
	return body
}

// fakeEnricher answers lookups with a function of the key.
type fakeEnricher struct {
	source   journal.Source
	notFound bool
	respond  func(key sources.Key) (httpclient.Result, error)
	calls    atomic.Int64
}

func (f *fakeEnricher) Source() journal.Source { return f.source }

func (f *fakeEnricher) NotFoundIsNoData() bool { return f.notFound }

func (f *fakeEnricher) Lookup(ctx context.Context, key sources.Key) (httpclient.Result, error) {
	f.calls.Add(1)
	if key.Empty() {
		return httpclient.Result{}, sources.ErrNoKey
	}
	if err := ctx.Err(); err != nil {
		return httpclient.Result{}, err
	}
	return f.respond(key)
}

func always(res httpclient.Result) func(sources.Key) (httpclient.Result, error) {
	return func(sources.Key) (httpclient.Result, error) { return res, nil }
}

// hits returns a positive body for every enrichment source.
func hits() []sources.Enricher {
	return []sources.Enricher{
		&fakeEnricher{source: journal.SourceCrossref, notFound: true, respond: func(k sources.Key) (httpclient.Result, error) {
			return okResult([]byte(`{"message":{"title":"Crossref ` + k.Title + `","publisher":"Crossref Pub","ISSN":["` + k.ISSN + `"]}}`)), nil
		}},
		&fakeEnricher{source: journal.SourceDOAJ, respond: always(okResult([]byte(`{"results":[]}`)))},
		&fakeEnricher{source: journal.SourceNLM, respond: always(okResult([]byte(`{"esearchresult":{"idlist":["101"]}}`)))},
		&fakeEnricher{source: journal.SourceWikidata, respond: always(okResult([]byte(`{"results":{"bindings":[]}}`)))},
		&fakeEnricher{source: journal.SourceWikipedia, notFound: true, respond: always(statusResult(http.StatusNotFound))},
	}
}

// seqIDs mints predictable ids.
type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1)), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func issnFor(i int) string {
	return fmt.Sprintf("%04d-%04d", 1000+i, 2000+i)
}

func items(from, to int) []pageItem {
	var out []pageItem
	for i := from; i <= to; i++ {
		out = append(out, pageItem{
			id:    fmt.Sprintf("S%03d", i),
			name:  fmt.Sprintf("Journal %d", i),
			issnL: issnFor(i),
		})
	}
	return out
}
