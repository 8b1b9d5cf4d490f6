package rotator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
)

// DefaultMaxAttempts bounds retry-with-rotation.
const DefaultMaxAttempts = 3

// Injector applies a credential to an outgoing request.
type Injector func(req *httpclient.Request, credential string)

// HeaderInjector sets header to prefix+credential.
func HeaderInjector(header, prefix string) Injector {
	return func(req *httpclient.Request, credential string) {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set(header, prefix+credential)
	}
}

// QueryInjector sets a query parameter to the credential.
func QueryInjector(param string) Injector {
	return func(req *httpclient.Request, credential string) {
		u, err := url.Parse(req.URL)
		if err != nil {
			return
		}
		q := u.Query()
		q.Set(param, credential)
		u.RawQuery = q.Encode()
		req.URL = u.String()
	}
}

// ProxyInjector routes the request through the credential as a forward proxy.
func ProxyInjector() Injector {
	return func(req *httpclient.Request, credential string) {
		req.Proxy = credential
	}
}

// RetryingConfig configures a RetryingClient.
type RetryingConfig struct {
	MaxAttempts int
	Backoff     *Backoff
	// RateLimited classifies responses that warrant rotation. Defaults to 429.
	RateLimited func(httpclient.Result) bool
	Logger      *zap.Logger
}

// RetryingClient wraps a Doer, applying the rotator's current credential and
// rotating on rate-limit responses or transport errors.
type RetryingClient struct {
	doer        httpclient.Doer
	rotator     *Rotator
	inject      Injector
	maxAttempts int
	backoff     Backoff
	rateLimited func(httpclient.Result) bool
	logger      *zap.Logger
}

// NewRetryingClient builds a RetryingClient.
func NewRetryingClient(doer httpclient.Doer, rot *Rotator, inject Injector, cfg RetryingConfig) *RetryingClient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	backoff := DefaultBackoff
	if cfg.Backoff != nil {
		backoff = *cfg.Backoff
	}
	if cfg.RateLimited == nil {
		cfg.RateLimited = IsRateLimited
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingClient{
		doer:        doer,
		rotator:     rot,
		inject:      inject,
		maxAttempts: cfg.MaxAttempts,
		backoff:     backoff,
		rateLimited: cfg.RateLimited,
		logger:      logger,
	}
}

// IsRateLimited reports an HTTP 429.
func IsRateLimited(res httpclient.Result) bool {
	return res.Status == http.StatusTooManyRequests
}

// Do issues req, returning the last response or error once rotation is
// impossible or the attempt bound is reached.
func (c *RetryingClient) Do(ctx context.Context, req httpclient.Request) (httpclient.Result, error) {
	var (
		last    httpclient.Result
		lastErr error
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		out := req
		out.Header = req.Header.Clone()
		cred, ok := c.rotator.Current(ctx)
		if ok && c.inject != nil {
			c.inject(&out, cred)
		}
		res, err := c.doer.Do(ctx, out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return res, fmt.Errorf("retrying request: %w", err)
		}
		if err == nil && !c.rateLimited(res) {
			return res, nil
		}
		last, lastErr = res, err
		if attempt == c.maxAttempts || !c.rotator.AdvanceFrom(cred) {
			break
		}
		c.logger.Debug("rotating after failed attempt",
			zap.Int("attempt", attempt),
			zap.Int("status", res.Status),
			zap.Error(err),
		)
		if err := sleep(ctx, c.backoff.Delay(attempt)); err != nil {
			return last, err
		}
	}
	return last, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
