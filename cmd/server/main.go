package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/estate-game/estate-server/internal/config"
	"github.com/estate-game/estate-server/internal/game"
	"github.com/estate-game/estate-server/internal/game/board"
	"github.com/estate-game/estate-server/internal/store"
	"github.com/estate-game/estate-server/internal/transport"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting estate server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("estate server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, restorable, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []game.EngineOption
	if cfg.Replay.Enabled {
		if err := os.MkdirAll(cfg.Replay.Dir, 0o755); err != nil {
			return fmt.Errorf("create replay dir: %w", err)
		}
		recorder := game.NewReplayRecorder(logger, cfg.Replay.Dir)
		defer recorder.Wait()
		opts = append(opts, game.WithReplayRecorder(recorder))
		logger.Info("replay recording enabled", zap.String("dir", cfg.Replay.Dir))
	}

	b, err := loadBoard(ctx, st, logger)
	if err != nil {
		return err
	}
	opts = append(opts, game.WithBoard(b))

	engine := game.NewEngine(st, logger, cfg.Game.EngineConfig(), opts...)

	registry := game.NewRegistry(engine, logger, game.RegistryConfig{BotDelay: cfg.Game.BotDelay})
	defer registry.Close()

	hub := transport.NewHub(registry, logger, transport.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	registry.SetEmitter(hub)

	for _, id := range restorable {
		if _, err := registry.Restore(ctx, id); err != nil {
			logger.Warn("session not restored", zap.String("session_id", id), zap.Error(err))
			continue
		}
		logger.Info("session restored", zap.String("session_id", id))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d,"clients":%d}`, len(registry.Sessions()), hub.Clients())
	})

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"X-Player-ID", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening",
			zap.String("address", cfg.Server.Address),
			zap.String("websocket_path", cfg.Server.WebSocketPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore builds the store chain: Postgres or memory, optionally behind a
// Redis cache. It also returns the sessions worth restoring on startup.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, []string, func(), error) {
	var (
		st         store.Store
		restorable []string
		closers    []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Enabled {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		restorable, err = pg.LoadActive(ctx)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		st = pg
	} else {
		logger.Warn("database disabled; sessions live in memory only")
		st = store.NewMemoryStore(logger)
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; cache writes will be skipped", zap.Error(err))
		}
		closers = append(closers, func() { client.Close() })
		st = store.NewCachedStore(st, client, cfg.Redis.TTL, logger)
		logger.Info("redis session cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	return st, restorable, cleanup, nil
}

// loadBoard uses the stored square templates when there are any, and seeds
// the built-in board otherwise.
func loadBoard(ctx context.Context, st store.TemplateStore, logger *zap.Logger) (*board.Board, error) {
	templates, err := st.LoadTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board templates: %w", err)
	}
	if len(templates) == 0 {
		b := board.Default()
		if err := st.SeedTemplates(ctx, b); err != nil {
			return nil, fmt.Errorf("seed board templates: %w", err)
		}
		return b, nil
	}
	b, err := board.New(templates)
	if err != nil {
		return nil, fmt.Errorf("stored board: %w", err)
	}
	logger.Info("board loaded from store", zap.Int("squares", b.Size()))
	return b, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
