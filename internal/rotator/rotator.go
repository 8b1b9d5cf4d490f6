// Package rotator hands out per-source credentials (API keys or forward
// proxies) round-robin and retries upstream calls with rotation.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/metrics"
)

// ErrNoCredential is returned when a rotator has nothing to hand out.
var ErrNoCredential = errors.New("no credential configured")

// Provider supplies the current credential list of one source.
type Provider interface {
	Credentials(ctx context.Context) ([]string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]string, error)

// Credentials implements Provider.
func (f ProviderFunc) Credentials(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// Static returns a Provider serving a fixed list.
func Static(creds ...string) Provider {
	list := append([]string(nil), creds...)
	return ProviderFunc(func(context.Context) ([]string, error) {
		return append([]string(nil), list...), nil
	})
}

// Config controls a Rotator.
type Config struct {
	// Source labels metrics and logs.
	Source string
	// TTL is how long a loaded list is served before it is re-read. Zero
	// disables automatic refresh.
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Rotator is an instance-scoped round-robin over one source's credentials.
// It is safe for concurrent use.
type Rotator struct {
	cfg      Config
	provider Provider
	logger   *zap.Logger

	mu       sync.Mutex
	creds    []string
	idx      int
	loadedAt time.Time
	loaded   bool
}

// New builds a Rotator. The list is loaded lazily on first use.
func New(provider Provider, cfg Config) *Rotator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		provider = Static()
	}
	return &Rotator{
		cfg:      cfg,
		provider: provider,
		logger:   logger.Named("rotator").With(zap.String("source", cfg.Source)),
	}
}

// Current returns the active credential; ok is false when none are configured.
func (r *Rotator) Current(ctx context.Context) (string, bool) {
	r.refreshIfStale(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) == 0 {
		return "", false
	}
	return r.creds[r.idx], true
}

// Advance moves to the next credential. It reports false when fewer than two
// credentials are available, in which case rotating is pointless.
func (r *Rotator) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) < 2 {
		return false
	}
	r.advance()
	return true
}

// AdvanceFrom rotates away from failed only if it is still the active
// credential. When another caller already moved on, the new active credential
// is left in place and AdvanceFrom still reports true.
func (r *Rotator) AdvanceFrom(failed string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) < 2 {
		return false
	}
	if r.creds[r.idx] == failed {
		r.advance()
	}
	return true
}

// advance must be called with mu held.
func (r *Rotator) advance() {
	r.idx = (r.idx + 1) % len(r.creds)
	metrics.ObserveRotation(r.cfg.Source)
	r.logger.Debug("credential rotated", zap.Int("index", r.idx))
}

// Reload re-reads the credential list immediately. The active credential is
// kept when it survives the reload.
func (r *Rotator) Reload(ctx context.Context) error {
	creds, err := r.provider.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("reload %s credentials: %w", r.cfg.Source, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.install(creds)
	return nil
}

// Len returns the number of loaded credentials.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

// Reset rewinds to the first credential.
func (r *Rotator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = 0
}

func (r *Rotator) refreshIfStale(ctx context.Context) {
	r.mu.Lock()
	stale := !r.loaded || (r.cfg.TTL > 0 && r.cfg.Now().Sub(r.loadedAt) >= r.cfg.TTL)
	r.mu.Unlock()
	if !stale {
		return
	}
	if err := r.Reload(ctx); err != nil {
		r.logger.Warn("credential refresh failed, keeping previous list", zap.Error(err))
		r.mu.Lock()
		r.loaded = true
		r.loadedAt = r.cfg.Now()
		r.mu.Unlock()
	}
}

// install must be called with mu held.
func (r *Rotator) install(creds []string) {
	var active string
	if len(r.creds) > 0 {
		active = r.creds[r.idx]
	}
	r.creds = append([]string(nil), creds...)
	r.idx = 0
	for i, c := range r.creds {
		if c == active {
			r.idx = i
			break
		}
	}
	r.loaded = true
	r.loadedAt = r.cfg.Now()
}
