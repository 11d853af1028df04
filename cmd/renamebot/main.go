package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/renamebot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("cannot run bot", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional, environment variables are used if there is no file
	_ = godotenv.Load()

	var cfg renamebot.Config
	if err := cfg.Read(os.Getenv("CONFIG_FILE")); err != nil {
		return errm.Wrap(err, "read config")
	}
	if cfg.Token == "" {
		return errm.New("BOT_TOKEN is not set")
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lang.If(cfg.Debug, slog.LevelDebug, slog.LevelInfo),
	}))

	ctx := contem.New()
	var stopBot func()
	defer func() {
		shutdown(ctx, stopBot, log)
	}()

	opts := []func(*renamebot.Options){
		renamebot.WithConfig(cfg),
		renamebot.WithLogger(log),
	}

	if cfg.Database.IsEnabled() {
		db, err := renamebot.NewMongo(ctx, cfg.Database)
		if err != nil {
			return errm.Wrap(err, "connect to mongo")
		}
		users, err := renamebot.NewMongoUsersStorage(ctx, db.GetCollection(cfg.Database.Collection))
		if err != nil {
			return errm.Wrap(err, "new users storage")
		}
		opts = append(opts, renamebot.WithUserDB(users))
		log.Info("using mongo storage", "database", cfg.Database.Name, "collection", cfg.Database.Collection)
	} else {
		log.Warn("MONGO_DB is not set, counters are stored in memory")
	}

	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, renamebot.WithMetrics(renamebot.MetricsConfig{Registry: reg}))

		srv := newMetricsServer(cfg.MetricsAddress, reg)
		ctx.Add(srv.Shutdown)
		lang.Go(log, func() {
			log.Info("metrics server is listening", "address", cfg.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		})
	}

	b, err := renamebot.New(ctx, cfg.Token, opts...)
	if err != nil {
		return errm.Wrap(err, "new bot")
	}

	log.Info("bot is configured",
		"username", b.Bot().Me.Username,
		"owner_id", cfg.OwnerID,
		"freemium_limit", cfg.FreemiumLimit,
		"concurrent", cfg.Concurrent,
	)

	b.Start()
	stopBot = b.Stop

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutdown requested")

	return nil
}

// shutdown stops polling before the context closes the database and the metrics server.
func shutdown(ctx contem.Context, stopBot func(), log *slog.Logger) {
	if stopBot != nil {
		stopBot()
	}
	if err := ctx.Shutdown(); err != nil {
		log.Error("cannot shutdown", "error", err)
	}
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
