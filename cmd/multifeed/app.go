package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/quinnstephens/multifeed/internal/auth"
	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/config"
	"github.com/quinnstephens/multifeed/internal/dispatch"
	"github.com/quinnstephens/multifeed/internal/feed"
	"github.com/quinnstephens/multifeed/internal/observability/otelx"
	"github.com/quinnstephens/multifeed/internal/output"
	"github.com/quinnstephens/multifeed/internal/poller"
	"github.com/quinnstephens/multifeed/internal/seenset"
)

// app holds the wired component graph for one invocation.
type app struct {
	doc       *config.Document
	env       config.EnvConfig
	multipath string
	logger    *slog.Logger

	clk        clock.Clock
	tokens     *auth.Manager
	dispatcher *dispatch.Dispatcher
	feed       *feed.Client
	store      *seenset.Store
	writer     *output.JSONLWriter
	purger     *output.Purger
	orch       *poller.Orchestrator

	otelShutdown func(context.Context) error
}

// newApp loads config, overlays the environment, and wires every component
// in dependency order: token manager and seen-set store first, then the
// dispatcher, then the orchestrator on top.
func newApp(ctx context.Context, configPath string) (*app, error) {
	env := config.LoadEnv()
	if configPath == "" {
		configPath = env.ConfigPath
	}

	doc, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	env.Overlay(doc)
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	multipath, err := doc.Multipath()
	if err != nil {
		return nil, err
	}

	logger := newLogger(doc.Logging.Level, doc.Logging.Format)
	slog.SetDefault(logger)

	otelShutdown, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	clk := clock.System()

	httpClient, err := newHTTPClient(doc.Network)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewManager(auth.Config{
		TokenURL:     doc.Reddit.Endpoints.WWWBase + "/api/v1/access_token",
		ClientID:     doc.Reddit.Auth.ClientID,
		ClientSecret: doc.Reddit.Auth.ClientSecret,
		RefreshToken: doc.Reddit.Auth.RefreshToken,
		UserAgent:    doc.Reddit.UserAgent,
	}, httpClient, clk)

	respectHeaders := true
	if doc.RateLimit.RespectResponseHeaders != nil {
		respectHeaders = *doc.RateLimit.RespectResponseHeaders
	}

	dispatcher := dispatch.New(dispatch.Config{
		BaseURL:           doc.Reddit.Endpoints.OAuthBase,
		UserAgent:         doc.Reddit.UserAgent,
		MaxQPM:            doc.RateLimit.MaxQPM,
		RespectHeaders:    respectHeaders,
		SafetyMinInterval: doc.RateLimit.SafetyMinInterval.Std(),
		MaxRetries:        doc.Network.Retries,
		Backoff:           doc.Network.Backoff.Std(),
		MaxBackoff:        doc.Network.MaxBackoff.Std(),
		Jitter:            doc.Network.Jitter.Std(),
	}, tokens, httpClient, clk)

	feedClient := feed.NewClient(dispatcher, multipath)

	store, err := seenset.Load(doc.Storage.StateFile, doc.Fetch.Listing.MaxSeenKeep)
	if err != nil {
		return nil, err
	}

	writer, err := output.NewJSONLWriter(doc.Storage.PostsDir, clk)
	if err != nil {
		return nil, err
	}

	purger := output.NewPurger(
		doc.Storage.PostsDir,
		doc.Storage.Compliance.PurgeDeletedContent,
		doc.Storage.Compliance.PurgeInterval.Std(),
		clk,
	)

	orch := poller.New(feedClient, store, writer, purger, clk, poller.Config{
		Sort:                     doc.Fetch.Listing.Sort,
		Limit:                    doc.Fetch.Listing.Limit,
		PollInterval:             doc.Fetch.Listing.PollInterval.Std(),
		Cron:                     doc.Fetch.Listing.Cron,
		FetchPostDetail:          doc.Fetch.PerPost.FetchPostDetail,
		FetchComments:            doc.Fetch.PerPost.FetchComments,
		MarkSeenOnCommentFailure: doc.Fetch.PerPost.MarkSeenOnCommentFailureValue(),
		Comments: feed.CommentsOptions{
			Limit:    doc.Fetch.PerPost.Comments.Limit,
			Depth:    doc.Fetch.PerPost.Comments.Depth,
			Sort:     doc.Fetch.PerPost.Comments.Sort,
			Truncate: doc.Fetch.PerPost.Comments.Truncate,
		},
	})

	return &app{
		doc:          doc,
		env:          env,
		multipath:    multipath,
		logger:       logger,
		clk:          clk,
		tokens:       tokens,
		dispatcher:   dispatcher,
		feed:         feedClient,
		store:        store,
		writer:       writer,
		purger:       purger,
		orch:         orch,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *app) shutdown(ctx context.Context) {
	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(shutdownCtx); err != nil {
			a.logger.Error("otel shutdown failed", "error", err)
		}
	}
}

func newHTTPClient(cfg config.NetworkConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Timeout:   cfg.Timeout.Std(),
		Transport: transport,
	}, nil
}
