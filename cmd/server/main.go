package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/JushBJJ/Wormhole/common/id"
	"github.com/JushBJJ/Wormhole/common/llm"
	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/common/otel"
	"github.com/JushBJJ/Wormhole/core/config"
	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/bridge/telegram"
	"github.com/JushBJJ/Wormhole/internal/bridge/webhook"
	"github.com/JushBJJ/Wormhole/internal/bus"
	"github.com/JushBJJ/Wormhole/internal/command"
	"github.com/JushBJJ/Wormhole/internal/core"
	"github.com/JushBJJ/Wormhole/internal/http/handler"
	"github.com/JushBJJ/Wormhole/internal/http/middleware"
	httprouter "github.com/JushBJJ/Wormhole/internal/http/router"
	"github.com/JushBJJ/Wormhole/internal/retention"
	"github.com/JushBJJ/Wormhole/internal/store"
	"github.com/JushBJJ/Wormhole/internal/store/pebblestore"
	"github.com/JushBJJ/Wormhole/internal/store/pgstore"
)

var version = "dev"

// webhookPlatform is the platform name deliveries use for webhook-backed
// channels, e.g. Discord channels configured with %webhook.
const webhookPlatform = "discord"

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "wormhole starting",
		"env", cfg.Env,
		"version", version,
		"bridge_name", cfg.BridgeName,
		"store", cfg.Store.Driver)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	router := bridge.NewRouter()
	opts := core.Options{Stores: stores, Router: router, Version: version}

	var redisBus *bus.Redis
	if cfg.Bus.Enabled {
		redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// The bus reconnects on its own; local relay keeps working meanwhile.
			slog.WarnContext(ctx, "redis unreachable at start", "error", err)
		}
		redisBus = bus.NewRedis(redisClient, bus.Config{
			Topic:      cfg.Bus.Topic,
			BridgeName: cfg.BridgeName,
			DedupeTTL:  cfg.Bus.DedupeTTL,
		})
		opts.Publisher = redisBus
	}

	if cfg.OpenAI.Enabled() {
		client, err := llm.New(llm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create llm client", "error", err)
			os.Exit(1)
		}
		opts.Suggester = command.NewLLMSuggester(client)
		slog.InfoContext(ctx, "command suggestions enabled", "model", cfg.OpenAI.Model)
	}

	app := core.New(cfg, opts)
	router.Register(webhook.New(webhookPlatform, app.WebhookURLs()))

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load seed", "error", err)
		os.Exit(1)
	}
	if err := app.ApplySeed(ctx, seed); err != nil {
		slog.ErrorContext(ctx, "failed to apply seed", "error", err)
		os.Exit(1)
	}

	pruner, err := retention.New(stores.Messages(), retention.Config{
		Cron:   cfg.Retention.Cron,
		Period: cfg.Retention.Period,
	})
	if err != nil {
		slog.ErrorContext(ctx, "invalid retention config", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var wg sync.WaitGroup

	var tg *telegram.Bridge
	if cfg.Telegram.Enabled() {
		tg, err = telegram.New(cfg.Telegram.Token)
		if err != nil {
			slog.ErrorContext(ctx, "failed to start telegram bridge", "error", err)
			os.Exit(1)
		}
		router.Register(tg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.Run(runCtx, app)
		}()
	}

	if redisBus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := redisBus.Run(runCtx, app.Relay); err != nil {
				slog.ErrorContext(runCtx, "bus stopped with error", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruner.Run(runCtx)
	}()

	slog.InfoContext(ctx, "bridges registered", "platforms", router.Platforms())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, app),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	// Stop intake first so no new fan-out starts, then let in-flight ones finish.
	if tg != nil {
		tg.Stop()
	}
	if redisBus != nil {
		redisBus.Stop()
	}
	pruner.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Relay.DrainTimeout+10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if !app.Relay.Drain(cfg.Relay.DrainTimeout) {
		slog.WarnContext(shutdownCtx, "relay drain timed out", "timeout", cfg.Relay.DrainTimeout)
	}
	cancelRun()
	wg.Wait()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func openStores(ctx context.Context, cfg config.Config) (store.Provider, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		stores, err := pgstore.New(ctx, database)
		if err != nil {
			database.Close()
			return nil, err
		}
		slog.InfoContext(ctx, "database connected")
		return stores, nil
	default:
		stores, err := pebblestore.Open(pebblestore.Config{Path: cfg.Store.PebblePath})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "pebble store opened", "path", cfg.Store.PebblePath)
		return stores, nil
	}
}

func setupRouter(cfg config.Config, app *core.Core) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.Handlers{
		Messages:   handler.NewMessageHandler(app, app.Relay),
		Categories: handler.NewCategoryHandler(app.Registry),
	}, httprouter.RouterConfig{
		BridgeAPIKey: cfg.HTTP.BridgeAPIKey,
		IngestRPS:    cfg.HTTP.IngestRPS,
		IngestBurst:  cfg.HTTP.IngestBurst,
	})

	return router
}

const banner = `
██╗    ██╗ ██████╗ ██████╗ ███╗   ███╗██╗  ██╗ ██████╗ ██╗     ███████╗
██║    ██║██╔═══██╗██╔══██╗████╗ ████║██║  ██║██╔═══██╗██║     ██╔════╝
██║ █╗ ██║██║   ██║██████╔╝██╔████╔██║███████║██║   ██║██║     █████╗
██║███╗██║██║   ██║██╔══██╗██║╚██╔╝██║██╔══██║██║   ██║██║     ██╔══╝
╚███╔███╔╝╚██████╔╝██║  ██║██║ ╚═╝ ██║██║  ██║╚██████╔╝███████╗███████╗
 ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝     ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚══════╝╚══════╝
`
