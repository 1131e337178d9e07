package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backend-shuttletrack/internal/config"
	"backend-shuttletrack/internal/db"
	"backend-shuttletrack/internal/notify"
	"backend-shuttletrack/internal/routing"
	"backend-shuttletrack/internal/server"
	"backend-shuttletrack/internal/stream"
	"backend-shuttletrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectAMQP     func(context.Context, config.Config) (*notify.Connection, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *notify.Connection, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectAMQP:     connectAMQP,
		notify:          signal.Notify,
		run:             Run,
	}
}

func connectAMQP(ctx context.Context, cfg config.Config) (*notify.Connection, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	return notify.DialAMQP(ctx, cfg.AMQPURL, cfg.NotifyExchange, slog.Default())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	slog.SetDefault(newLogger(cfg.LogLevel))

	var pg *pgxpool.Pool
	if cfg.StoreBackend != "memory" {
		var err error
		if pg, err = deps.connectPostgres(cfg); err != nil {
			slog.Error("postgres connection failed", "error", err)
		}
	}

	rdb := deps.connectRedis(cfg)

	mq, err := deps.connectAMQP(context.Background(), cfg)
	if err != nil {
		slog.Error("rabbitmq connection failed", "error", err)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, mq, signals, nil); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var migrateFn = db.Migrate

func trackingOptions(cfg config.Config) tracking.Options {
	return tracking.Options{
		ThresholdMinutes:     cfg.NotifyThresholdMinutes,
		ArrivalRadiusM:       cfg.ArrivalRadiusM,
		AdvanceRadiusM:       cfg.AdvanceRadiusM,
		AssumedSpeedKmh:      cfg.AssumedSpeedKmh,
		MinSpeedKmh:          cfg.MinSpeedKmh,
		MaxPlausibleSpeedKmh: cfg.MaxPlausibleSpeedKmh,
		InactivityWindow:     cfg.InactivityWindow,
		RetentionWindow:      cfg.RetentionWindow,
		SessionTTL:           cfg.SessionTTL,
	}
}

// Run wires the tracking pipeline, starts the HTTP server and the sweeper, and
// waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, mq *notify.Connection, signals <-chan os.Signal, listen ListenFunc) error {
	log := slog.Default()

	var store tracking.Store
	if pg != nil && cfg.StoreBackend != "memory" {
		if err := migrateFn(ctx, cfg.PostgresURL); err != nil {
			return err
		}
		store = tracking.NewPGStore(pg)
	} else {
		log.Warn("using in-memory tracking store")
		store = tracking.NewMemoryStore()
	}

	var notifier tracking.Notifier = notify.NewLogNotifier(log)
	if mq != nil {
		notifier = notify.NewAMQPNotifier(mq.Channel(), cfg.NotifyExchange, cfg.NotifyRoutingKey)
	}

	var provider tracking.RouteProvider
	if cfg.RoutingURL != "" {
		provider = routing.NewCache(routing.NewClient(cfg.RoutingURL, cfg.RoutingTimeout), rdb, cfg.RouteCacheTTL, log)
	}

	hub := stream.NewHub(rdb)
	svc := tracking.NewService(store, notifier, provider, hub, trackingOptions(cfg), log)
	srv := server.NewServer(cfg, svc, hub)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go tracking.NewSweeper(svc, cfg.SweepInterval, log).Run(sweepCtx)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	hub.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if mq != nil {
		mq.Close()
	}
	return nil
}
