package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/remarkable-relay/internal/bot"
	"github.com/tonimelisma/remarkable-relay/internal/config"
	"github.com/tonimelisma/remarkable-relay/internal/identity"
	"github.com/tonimelisma/remarkable-relay/internal/metrics"
	"github.com/tonimelisma/remarkable-relay/internal/remarkable"
	"github.com/tonimelisma/remarkable-relay/internal/telegram"
	"github.com/tonimelisma/remarkable-relay/internal/transfer"
	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Long: `Poll Telegram for messages and relay them to reMarkable cloud accounts.

The first SIGINT or SIGTERM stops polling and waits for in-flight
interactions; a second one exits immediately.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	if err := cfg.RequireServe(); err != nil {
		return err
	}

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tg, err := telegram.New(telegram.Options{
		Token:       cfg.BotToken,
		HTTPClient:  &http.Client{Timeout: cfg.PollTimeout + cfg.HTTPTimeout},
		PollTimeout: cfg.PollTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	cloud := cloudGateway{remarkable.NewGateway(remarkable.Endpoints{
		AuthURL:      cfg.Cloud.AuthURL,
		DiscoveryURL: cfg.Cloud.DiscoveryURL,
		DeviceDesc:   cfg.Cloud.DeviceDesc,
	}, gatewayHTTPClient(cfg.HTTPTimeout), cfg.UserAgent, logger)}

	transfers := transfer.NewService(store, identity.NewResolver(store, logger), cloud, tg, logger)

	dispatcher, err := bot.New(bot.Options{
		AllowedHandles:    cfg.AllowedHandles,
		RateLimit:         cfg.RateLimit,
		RateWindow:        cfg.RateWindow,
		MaxConcurrent:     cfg.MaxConcurrent,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		Store:             store,
		Cloud:             cloud,
		Transfers:         transfers,
		Transport:         tg,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Info("relay serving",
		slog.String("bot", tg.Username()),
		slog.Int("allowed_handles", len(cfg.AllowedHandles)),
		slog.String("store", cfg.Store.Backend),
		slog.String("version", version),
	)

	events := make(chan bot.Event)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return tg.Poll(gctx, events) })
	g.Go(func() error { return dispatcher.Run(gctx, events) })

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("relay stopped")

	return nil
}

// openStore opens the configured credential store backend.
func openStore(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (userstore.Store, error) {
	store, err := userstore.Open(ctx, userstore.Options{
		Backend:    cfg.Store.Backend,
		Dir:        cfg.Store.Dir,
		SQLitePath: cfg.Store.SQLitePath,
		RedisURL:   cfg.Store.RedisURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	return store, nil
}

// gatewayHTTPClient bounds how long the cloud may take to start answering
// but not how long a body takes to stream, so large archive downloads and
// blob uploads are never cut off mid-transfer.
func gatewayHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default is always *http.Transport
	tr.ResponseHeaderTimeout = headerTimeout

	return &http.Client{Transport: tr}
}

// cloudGateway exposes remarkable.Gateway through the interfaces the
// dispatcher and transfer protocol consume.
type cloudGateway struct {
	*remarkable.Gateway
}

func (g cloudGateway) Open(ctx context.Context, deviceToken string) (transfer.Documents, error) {
	client, err := g.Gateway.Open(ctx, deviceToken)
	if err != nil {
		return nil, err
	}

	return client, nil
}
