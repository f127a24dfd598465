package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/firehose/internal/api"
	"github.com/rickgao/firehose/internal/auth"
	"github.com/rickgao/firehose/internal/config"
	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/database"
	"github.com/rickgao/firehose/internal/feed"
	"github.com/rickgao/firehose/internal/metrics"
	"github.com/rickgao/firehose/internal/stream"
	"github.com/rickgao/firehose/internal/version"
	"github.com/rickgao/firehose/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/firehose.example.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting firehose",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed", cfg.Feed.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	creds, err := auth.LoadCredentials(
		cfg.Auth.ConsumerKey,
		cfg.Auth.ConsumerSecret,
		cfg.Auth.AccessToken,
		cfg.Auth.AccessTokenSecret,
	)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Create API client
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		creds,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	if !cfg.API.SkipVerify {
		if _, err := apiClient.VerifyCredentials(ctx); err != nil {
			logger.Error("failed to verify credentials", "error", err)
			os.Exit(1)
		}
	}

	source, err := newFeed(ctx, cfg, apiClient, logger)
	if err != nil {
		logger.Error("failed to set up feed", "error", err)
		os.Exit(1)
	}

	// Sinks
	sinks := writer.NewFanout()
	var (
		pool     *pgxpool.Pool
		hub      *writer.Hub
		sinkSrcs metrics.SinkSources
	)

	if cfg.Sinks.Log.Enabled {
		sinks.Add(writer.NewLogWriter(logger.With("component", "sink", "sink", "log")))
	}

	if cfg.Sinks.Postgres.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := writer.NewPostgresWriter(pool, cfg.Sinks.Postgres.Table, logger.With("component", "sink", "sink", "postgres"))
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}
		sinks.Add(pg)
		sinkSrcs.Postgres = pg.Stats
	}

	if cfg.Sinks.WebSocket.Enabled {
		hub = writer.NewHub(writer.HubConfig{
			WriteTimeout: cfg.Sinks.WebSocket.WriteTimeout,
			SendBuffer:   cfg.Sinks.WebSocket.SendBuffer,
		}, logger.With("component", "sink", "sink", "websocket"))
		sinks.Add(hub)
		sinkSrcs.Hub = hub.Stats
	}

	// Stream engine
	engine := stream.NewEngine(
		streamConfig(cfg),
		source,
		creds,
		sinks,
		logger.With("component", "stream"),
	)

	// HTTP server: health, metrics and the websocket sink
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(engine, pool))
	registry := metrics.NewRegistry(engine.Stats, cfg.Instance.ID, metrics.NewSinkCollector(sinkSrcs, cfg.Instance.ID))
	mux.Handle(cfg.Metrics.Path, metrics.Handler(registry))
	if hub != nil {
		mux.Handle(cfg.Sinks.WebSocket.Path, hub)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start stream engine", "error", err)
		os.Exit(1)
	}

	logger.Info("firehose running",
		"instance_id", cfg.Instance.ID,
		"sinks", sinks.Len(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Engine first so the final drain still reaches every sink.
	engine.Stop(shutdownCtx)
	if hub != nil {
		hub.Close()
	}
	server.Shutdown(shutdownCtx)

	logger.Info("firehose stopped")
}

// newFeed builds the configured stream type. For the filter stream the
// follow screen names are resolved to IDs first.
func newFeed(ctx context.Context, cfg *config.Config, client *api.Client, logger *slog.Logger) (stream.Feed, error) {
	switch cfg.Feed.Type {
	case config.FeedUser:
		u := cfg.Feed.User
		return feed.NewUser(feed.UserConfig{
			URL:         u.URL,
			OnlyUser:    u.OnlyUser != nil && *u.OnlyUser,
			ShowFriends: u.ShowFriends,
		}, logger.With("component", "feed", "feed", "user")), nil

	case config.FeedFilter:
		fc := cfg.Feed.Filter
		f := feed.NewFilter(feed.FilterConfig{
			URL:         fc.URL,
			Track:       fc.Track,
			Follow:      fc.Follow,
			Fields:      fc.Fields,
			Language:    fc.Language,
			FilterLevel: fc.FilterLevel,
			Locations:   fc.Locations,
		}, logger.With("component", "feed", "feed", "filter"))

		if len(fc.Follow) > 0 {
			ids, err := client.LookupUserIDs(ctx, fc.Follow)
			if err != nil {
				return nil, fmt.Errorf("resolve follow: %w", err)
			}
			f.SetFollowIDs(ids)
		}
		return f, nil

	default:
		return nil, fmt.Errorf("unknown feed type %q", cfg.Feed.Type)
	}
}

func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		FlushInterval:      cfg.Stream.FlushInterval,
		StaleThreshold:     cfg.Stream.StaleThreshold,
		StaleCheckInterval: cfg.Stream.StaleCheckInterval,
		MaxFrameSize:       cfg.Stream.MaxFrameSize,
		Backoff: connection.BackoffConfig{
			Floor: cfg.Stream.BackoffFloor,
			Max:   cfg.Stream.BackoffMax,
		},
		Connector: connection.ConnectorConfig{
			ConnectTimeout: cfg.Stream.ConnectTimeout,
			ReadTimeout:    cfg.Stream.ReadTimeout,
			UserAgent:      version.UserAgent(),
		},
	}
}

// healthHandler reports stream and database state.
func healthHandler(engine *stream.Engine, pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		stats := engine.Stats()
		streamHealth := map[string]any{
			"connected":        stats.Connected,
			"connects":         stats.Connects,
			"retries":          stats.RetriesScheduled,
			"next_retry_delay": stats.NextRetryDelay.String(),
		}
		if !stats.LastReceive.IsZero() {
			streamHealth["last_receive"] = stats.LastReceive.UTC().Format(time.RFC3339)
		}
		health.Components["stream"] = streamHealth
		if !stats.Connected {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
