// Package sources builds the per-upstream queries used by the collector and
// the detail fetcher.
package sources

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/metrics"
)

// ErrNoKey is returned when a journal has neither an ISSN nor a title that the
// source can query by.
var ErrNoKey = errors.New("no queryable identifier or title")

// Key identifies a journal to an enrichment source.
type Key struct {
	ISSN  string
	Title string
}

// Empty reports whether the key carries nothing to query by.
func (k Key) Empty() bool {
	return strings.TrimSpace(k.ISSN) == "" && strings.TrimSpace(k.Title) == ""
}

// KeyFor selects the lookup key for a journal: the preferred alias when one
// exists, plus the display name as a title fallback.
func KeyFor(aliases []journal.IssnAlias, title string) Key {
	key := Key{Title: strings.TrimSpace(title)}
	if alias, ok := journal.PreferredAlias(aliases); ok {
		key.ISSN = alias.ISSN
	}
	return key
}

// Enricher looks a journal up in one secondary source.
type Enricher interface {
	Source() journal.Source
	Lookup(ctx context.Context, key Key) (httpclient.Result, error)
	// NotFoundIsNoData reports whether a 404 means the journal is simply not
	// listed by the source.
	NotFoundIsNoData() bool
}

// Acquirer hands out rate-limited request slots per source.
type Acquirer interface {
	Acquire(ctx context.Context, source string) (func(), error)
}

type instrumented struct {
	source  string
	doer    httpclient.Doer
	limiter Acquirer
}

// Instrument wraps doer so each attempt waits for a limiter slot (when limiter
// is non-nil) and is recorded in the upstream metrics.
func Instrument(source journal.Source, doer httpclient.Doer, limiter Acquirer) httpclient.Doer {
	return &instrumented{source: string(source), doer: doer, limiter: limiter}
}

func (i *instrumented) Do(ctx context.Context, req httpclient.Request) (httpclient.Result, error) {
	if i.limiter != nil {
		release, err := i.limiter.Acquire(ctx, i.source)
		if err != nil {
			return httpclient.Result{}, err
		}
		defer release()
	}
	start := time.Now()
	res, err := i.doer.Do(ctx, req)
	code := res.Status
	if err != nil {
		code = 0
	}
	metrics.ObserveUpstream(i.source, code, time.Since(start))
	return res, err
}

func jsonHeader(userAgent string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}

func joinURL(base, path string, query url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
