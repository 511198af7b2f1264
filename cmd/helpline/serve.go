package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/spf13/cobra"

	"uk.co.dudmesh.helpline/internal/blob"
	"uk.co.dudmesh.helpline/internal/boot"
	"uk.co.dudmesh.helpline/internal/feed"
	"uk.co.dudmesh.helpline/internal/handlers"
	"uk.co.dudmesh.helpline/internal/pipeline"
	"uk.co.dudmesh.helpline/internal/service/account"
	"uk.co.dudmesh.helpline/internal/service/helpline"
	"uk.co.dudmesh.helpline/internal/store"
)

const purgeInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the helpline API server",
		Long: `Serves the HTTP API on PORT and Prometheus metrics on METRICS_PORT.

Configuration is read from the environment and an optional .env file.
Set NATS_URL to share change events between several servers through JetStream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := boot.Load()
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, config)
		},
	}
}

func newBroker(ctx context.Context, config *boot.Config) (feed.Broker, error) {
	if config.NATS.URL == "" {
		return feed.NewLocal(), nil
	}
	return feed.NewNATS(ctx, feed.NATSOptions{
		URL:    config.NATS.URL,
		Stream: config.NATS.Stream,
		Prefix: config.NATS.Prefix,
	})
}

func newServer(config *boot.Config) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.BodyLimit(config.Server.BodyLimit))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("helpline"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     strings.Split(config.Server.Origins, ","),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))
	return server
}

func runServe(ctx context.Context, config *boot.Config) error {
	db, err := store.Open(config.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	blobs, err := blob.New(config.BlobDirectory(), config.BaseURL)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	pipelineConfig, err := pipeline.LoadConfig(config.Pipeline.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading pipeline config: %w", err)
	}
	if config.Pipeline.APIKey == "" {
		log.Warnf("PIPELINE_API_KEY is not set, audio processing will fail")
	}
	speech := pipeline.New(pipeline.Options{
		URL:       config.Pipeline.URL,
		APIKey:    config.Pipeline.APIKey,
		Timeout:   config.Pipeline.Timeout,
		RateLimit: config.Pipeline.RateLimit,
		Config:    pipelineConfig,
	})

	broker, err := newBroker(ctx, config)
	if err != nil {
		return fmt.Errorf("creating event feed: %w", err)
	}
	defer broker.Close()

	accounts, err := account.New(config, db)
	if err != nil {
		return fmt.Errorf("creating account service: %w", err)
	}

	server := newServer(config)
	handlers.Routes(server, &handlers.Dependencies{
		Accounts:      accounts,
		Helpline:      helpline.New(db, blobs, speech, broker),
		Audio:         speech,
		Blobs:         blobs,
		Feed:          broker,
		AuthRateLimit: config.Server.AuthRateLimit,
	})

	go purgeRevocations(ctx, db)

	metrics := echo.New()
	metrics.HideBanner = true
	metrics.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metrics.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Errorf("stopping metrics server: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return nil
}

func purgeRevocations(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purged, err := db.PurgeRevocations(ctx, now)
			if err != nil {
				log.Errorf("purging revocations: %v", err)
				continue
			}
			if purged > 0 {
				log.Infof("purged %d expired revocations", purged)
			}
		}
	}
}
