package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/config"
	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
	"github.com/JakeFAU/journal-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/journal-crawler/internal/progress"
	"github.com/JakeFAU/journal-crawler/internal/progress/sinks"
	"github.com/JakeFAU/journal-crawler/internal/rankings"
	"github.com/JakeFAU/journal-crawler/internal/rotator"
	"github.com/JakeFAU/journal-crawler/internal/sources"
	gcsstorage "github.com/JakeFAU/journal-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/journal-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/journal-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/journal-crawler/internal/storage/postgres"
)

func (a *App) buildStore(ctx context.Context) (journal.Store, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory store")
		return memorystorage.NewStore(), nil
	}
	st, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		st.Close()
		return nil
	})
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.logger.Info("using postgres store")
	return st, nil
}

func (a *App) buildHub(ctx context.Context, reg prometheus.Registerer) (*progress.Hub, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	all := []progress.Sink{sinks.NewLogSink(a.logger), promSink}

	if addr := a.cfg.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.onClose("redis", func(context.Context) error { return client.Close() })
		redisSink, err := sinks.NewRedisSink(client, a.cfg.Redis.Channel)
		if err != nil {
			return nil, fmt.Errorf("init redis sink: %w", err)
		}
		all = append(all, redisSink)
		a.logger.Info("redis progress channel enabled",
			zap.String("addr", addr),
			zap.String("channel", a.cfg.Redis.Channel),
		)
	}

	if topicName := a.cfg.PubSub.TopicName; topicName != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return client.Close() })
		pubsubSink, err := sinks.NewPubSubSink(sinks.NewTopicPublisher(client.Topic(topicName)))
		if err != nil {
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		all = append(all, pubsubSink)
		a.logger.Info("pubsub notifications enabled", zap.String("topic", topicName))
	}

	hub := progress.NewHub(progress.Config{Logger: a.logger.Named("progress")}, all...)
	a.onClose("progress hub", hub.Close)
	return hub, nil
}

func (a *App) buildArchive(ctx context.Context) (journal.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case "":
		return nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		bs, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return bs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		bs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("archive.backend %q is not supported", cfg.Backend)
	}
}

// buildRanker returns nil, not a typed nil, when no rankings database is set.
func (a *App) buildRanker(ctx context.Context) (pipeline.Ranker, error) {
	path := a.cfg.Rankings.DBPath
	if path == "" {
		return nil, nil
	}
	db, err := rankings.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open rankings: %w", err)
	}
	a.onClose("rankings", func(context.Context) error { return db.Close() })
	return rankings.NewIndex(db), nil
}

// keyInjectors places an api key on requests to sources that accept one.
// Sources absent here rotate proxies only.
var keyInjectors = map[journal.Source]rotator.Injector{
	journal.SourceOpenAlex: rotator.QueryInjector("api_key"),
	journal.SourceCrossref: rotator.HeaderInjector("Crossref-Plus-API-Token", "Bearer "),
	journal.SourceDOAJ:     rotator.QueryInjector("api_key"),
	journal.SourceNLM:      rotator.QueryInjector("api_key"),
}

type sourceClients struct {
	authoritative *sources.OpenAlex
	enrichers     []sources.Enricher
}

func (a *App) buildSources(configPath string) (sourceClients, error) {
	var out sourceClients
	if !a.cfg.Source(string(journal.SourceOpenAlex)).IsEnabled() {
		return out, fmt.Errorf("sources.openalex cannot be disabled")
	}
	base := httpclient.New(httpclient.Config{
		Timeout:      a.cfg.HTTP.Timeout(),
		MaxRedirects: a.cfg.HTTP.MaxRedirects,
		UserAgent:    a.cfg.Crawler.UserAgent,
	})
	budgets := make(map[string]ratelimit.Budget, len(a.cfg.Sources))
	for name, src := range a.cfg.Sources {
		budgets[name] = ratelimit.Budget{QPS: src.QPS, MaxInFlight: src.MaxInFlight}
	}
	limiter := ratelimit.New(ratelimit.Config{
		Default: ratelimit.Budget{QPS: 1, MaxInFlight: 1},
		Sources: budgets,
	})
	loader := config.NewCredentialLoader(configPath, a.cfg)

	doerFor := func(src journal.Source) httpclient.Doer {
		return a.retrying(src, sources.Instrument(src, base, limiter), loader)
	}
	optsFor := func(src journal.Source) sources.Options {
		sc := a.cfg.Source(string(src))
		return sources.Options{BaseURL: sc.BaseURL, Mailto: sc.Mailto, UserAgent: a.cfg.Crawler.UserAgent}
	}

	out.authoritative = sources.NewOpenAlex(doerFor(journal.SourceOpenAlex), optsFor(journal.SourceOpenAlex))
	constructors := map[journal.Source]func(httpclient.Doer, sources.Options) sources.Enricher{
		journal.SourceCrossref:  func(d httpclient.Doer, o sources.Options) sources.Enricher { return sources.NewCrossref(d, o) },
		journal.SourceDOAJ:      func(d httpclient.Doer, o sources.Options) sources.Enricher { return sources.NewDOAJ(d, o) },
		journal.SourceNLM:       func(d httpclient.Doer, o sources.Options) sources.Enricher { return sources.NewNLM(d, o) },
		journal.SourceWikidata:  func(d httpclient.Doer, o sources.Options) sources.Enricher { return sources.NewWikidata(d, o) },
		journal.SourceWikipedia: func(d httpclient.Doer, o sources.Options) sources.Enricher { return sources.NewWikipedia(d, o) },
	}
	for _, src := range journal.EnrichmentSources() {
		if !a.cfg.Source(string(src)).IsEnabled() {
			a.logger.Info("source disabled", zap.String("source", string(src)))
			continue
		}
		out.enrichers = append(out.enrichers, constructors[src](doerFor(src), optsFor(src)))
	}
	return out, nil
}

// retrying wraps doer with credential rotation. A source with api keys and a
// key injector rotates keys; otherwise it rotates its configured proxies.
func (a *App) retrying(src journal.Source, doer httpclient.Doer, loader *config.CredentialLoader) httpclient.Doer {
	name := string(src)
	sc := a.cfg.Source(name)
	inject, acceptsKeys := keyInjectors[src]

	var provider rotator.ProviderFunc
	if acceptsKeys && len(sc.APIKeys) > 0 {
		provider = func(ctx context.Context) ([]string, error) { return loader.APIKeys(ctx, name) }
	} else {
		inject = rotator.ProxyInjector()
		provider = func(ctx context.Context) ([]string, error) { return loader.Proxies(ctx, name) }
	}
	rot := rotator.New(provider, rotator.Config{
		Source: name,
		TTL:    sc.CredentialTTL,
		Logger: a.logger,
	})
	return rotator.NewRetryingClient(doer, rot, inject, rotator.RetryingConfig{
		MaxAttempts: a.cfg.HTTP.MaxAttempts,
		Logger:      a.logger.Named("retrying").With(zap.String("source", name)),
	})
}
