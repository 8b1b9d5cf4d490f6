package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
)

// PageSize is the number of sources requested per listing page.
const PageSize = 200

// OpenAlex queries the authoritative journal listing.
type OpenAlex struct {
	doer      httpclient.Doer
	baseURL   string
	mailto    string
	userAgent string
}

// Options configures a source client.
type Options struct {
	BaseURL   string
	Mailto    string
	UserAgent string
}

// NewOpenAlex builds an OpenAlex client.
func NewOpenAlex(doer httpclient.Doer, opts Options) *OpenAlex {
	return &OpenAlex{doer: doer, baseURL: opts.BaseURL, mailto: opts.Mailto, userAgent: opts.UserAgent}
}

// ListPage fetches one page of journals. An empty cursor starts the listing.
func (o *OpenAlex) ListPage(ctx context.Context, cursor string) (httpclient.Result, error) {
	if cursor == "" {
		cursor = "*"
	}
	q := url.Values{}
	q.Set("filter", "type:journal")
	q.Set("per-page", fmt.Sprint(PageSize))
	q.Set("cursor", cursor)
	if o.mailto != "" {
		q.Set("mailto", o.mailto)
	}
	return o.get(ctx, joinURL(o.baseURL, "/sources", q))
}

// Get fetches a single journal by its short id.
func (o *OpenAlex) Get(ctx context.Context, id string) (httpclient.Result, error) {
	q := url.Values{}
	if o.mailto != "" {
		q.Set("mailto", o.mailto)
	}
	return o.get(ctx, joinURL(o.baseURL, "/sources/"+url.PathEscape(id), q))
}

func (o *OpenAlex) get(ctx context.Context, target string) (httpclient.Result, error) {
	res, err := o.doer.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: jsonHeader(o.userAgent),
	})
	if err != nil {
		return res, fmt.Errorf("openalex request: %w", err)
	}
	return res, nil
}
