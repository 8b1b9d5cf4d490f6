package config

import (
	"context"
	"fmt"
	"strings"
)

// CredentialLoader re-reads per-source credentials and proxies so edits to the
// config file or environment reach running rotators without a restart.
type CredentialLoader struct {
	path     string
	fallback Config
}

// NewCredentialLoader reads from path; when path is empty, or reading fails,
// the credentials of fallback are served.
func NewCredentialLoader(path string, fallback Config) *CredentialLoader {
	return &CredentialLoader{path: path, fallback: fallback}
}

// APIKeys returns the api keys configured for source.
func (l *CredentialLoader) APIKeys(ctx context.Context, source string) ([]string, error) {
	src, err := l.load(ctx, source)
	if err != nil {
		return nil, err
	}
	return clean(src.APIKeys), nil
}

// Proxies returns the forward proxies configured for source.
func (l *CredentialLoader) Proxies(ctx context.Context, source string) ([]string, error) {
	src, err := l.load(ctx, source)
	if err != nil {
		return nil, err
	}
	return clean(src.Proxies), nil
}

func (l *CredentialLoader) load(ctx context.Context, source string) (SourceConfig, error) {
	if err := ctx.Err(); err != nil {
		return SourceConfig{}, fmt.Errorf("load credentials: %w", err)
	}
	if l.path == "" {
		return l.fallback.Source(source), nil
	}
	v, err := newViper(l.path)
	if err != nil {
		return l.fallback.Source(source), nil //nolint:nilerr // keep serving the last good config
	}
	var src SourceConfig
	if err := v.UnmarshalKey("sources."+source, &src); err != nil {
		return SourceConfig{}, fmt.Errorf("unmarshal sources.%s: %w", source, err)
	}
	return src, nil
}

func clean(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
