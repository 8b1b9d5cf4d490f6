// Package httpclient performs timed, cancellable upstream requests through
// Colly, optionally via a forward proxy, following redirects up to a bound.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrTooManyRedirects is returned once the redirect budget is exhausted.
var ErrTooManyRedirects = errors.New("too many redirects")

const maxBodySize = 32 << 20

// Request describes one upstream call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Proxy is an optional forward proxy URL.
	Proxy string
}

// Result is the normalized upstream response.
type Result struct {
	OK       bool
	Status   int
	Body     []byte
	Header   http.Header
	FinalURL string
}

// Text returns the body as a string.
func (r Result) Text() string {
	return string(r.Body)
}

// Doer executes upstream requests.
type Doer interface {
	Do(ctx context.Context, req Request) (Result, error)
}

// Config controls client behavior.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// Client is a Doer backed by one Colly collector per request. Transports are
// shared per proxy so connections are pooled across requests.
type Client struct {
	cfg Config

	mu         sync.Mutex
	transports map[string]http.RoundTripper
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	return &Client{
		cfg:        cfg,
		transports: make(map[string]http.RoundTripper),
	}
}

// Do issues req and follows up to Config.MaxRedirects redirects.
func (c *Client) Do(ctx context.Context, req Request) (Result, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	current := req.URL
	body := req.Body
	remaining := c.cfg.MaxRedirects
	for {
		res, err := c.roundTrip(ctx, method, current, req.Header, body, req.Proxy)
		if err != nil {
			return Result{}, err
		}
		location := res.Header.Get("Location")
		if !isRedirect(res.Status) || location == "" {
			res.FinalURL = current
			res.OK = res.Status >= 200 && res.Status < 300
			return res, nil
		}
		if remaining == 0 {
			return Result{Status: res.Status, FinalURL: current},
				fmt.Errorf("%w: %d followed from %s", ErrTooManyRedirects, c.cfg.MaxRedirects, req.URL)
		}
		remaining--
		next, err := resolve(current, location)
		if err != nil {
			return Result{}, err
		}
		if res.Status == http.StatusSeeOther ||
			(method == http.MethodPost && (res.Status == http.StatusMovedPermanently || res.Status == http.StatusFound)) {
			method = http.MethodGet
			body = nil
		}
		current = next
	}
}

func (c *Client) roundTrip(
	ctx context.Context,
	method, target string,
	header http.Header,
	body []byte,
	proxy string,
) (Result, error) {
	transport, err := c.transport(proxy)
	if err != nil {
		return Result{}, err
	}
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(maxBodySize),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(transport)
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	var (
		result   Result
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result.Status = r.StatusCode
		result.Body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			result.Header = r.Headers.Clone()
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	hdr := header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if hdr.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		hdr.Set("User-Agent", c.cfg.UserAgent)
	}

	done := make(chan error, 1)
	go func() {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		done <- collector.Request(method, target, reader, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%s %s canceled: %w", method, target, ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("%s %s: %w", method, target, err)
		}
		if fetchErr != nil {
			return Result{}, fmt.Errorf("%s %s: %w", method, target, fetchErr)
		}
		if result.Header == nil {
			result.Header = http.Header{}
		}
		return result, nil
	}
}

func (c *Client) transport(proxy string) (http.RoundTripper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.transports[proxy]; ok {
		return rt, nil
	}
	rt := newHTTPTransport()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", proxy)
		}
		rt.Proxy = http.ProxyURL(u)
	}
	c.transports[proxy] = rt
	return rt, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolve(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse redirect base: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", fmt.Errorf("parse redirect location: %w", err)
	}
	return b.ResolveReference(ref).String(), nil
}
