// Package app wires the engine together: store, selector, pipeline,
// lifecycle sweeps, bounce reconciliation, transports and the ops
// server, all driven by one cron cadence.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	tele "gopkg.in/telebot.v4"

	"github.com/foxzi/lanes/internal/attachments"
	"github.com/foxzi/lanes/internal/bounce"
	"github.com/foxzi/lanes/internal/config"
	"github.com/foxzi/lanes/internal/db"
	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/notify"
	"github.com/foxzi/lanes/internal/pipeline"
	"github.com/foxzi/lanes/internal/token"
	"github.com/foxzi/lanes/internal/track"
	"github.com/foxzi/lanes/internal/transport"
)

// App is the main application.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	database   *db.DB
	store      *attachments.Store
	pipeline   *pipeline.Pipeline
	lifecycle  *pipeline.Lifecycle
	reconciler *bounce.Reconciler
	metricsSrv *metrics.Server
	cron       *cron.Cron
}

// New wires the application from its configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, err
	}

	store, err := attachments.NewStore(cfg.Attachments.Path)
	if err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(cfg.Secret)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	var bot *tele.Bot
	if cfg.Telegram.Enabled {
		bot, err = tele.NewBot(tele.Settings{
			Token:  cfg.Telegram.Token,
			Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
	}

	var notifier notify.Notifier = notify.Noop{}
	if bot != nil {
		notifier = notify.NewTelegram(bot, logger)
	}

	router := transport.NewRouter(cfg.Pipeline.SendTimeout)
	smtpTransport, err := transport.NewSMTP(cfg.SMTP, store, logger)
	if err != nil {
		return nil, err
	}
	router.Register("smtp", smtpTransport)
	if bot != nil {
		router.Register("telegram", transport.NewTelegram(bot, logger))
	}

	selector := pipeline.NewSelector(database.DB, cfg.TestDomain)
	pipe := pipeline.New(database.DB, selector, router, codec, m, logger, cfg.Pipeline.Cycles)
	lifecycle := pipeline.NewLifecycle(database.DB, selector, notifier, m, logger)
	reconciler := bounce.NewReconciler(database.DB, codec, notifier, m, logger)

	app := &App{
		cfg:        cfg,
		logger:     logger.With("component", "app"),
		database:   database,
		store:      store,
		pipeline:   pipe,
		lifecycle:  lifecycle,
		reconciler: reconciler,
		cron:       cron.New(),
	}

	if cfg.Metrics.Enabled {
		tracker := track.NewHandler(database.DB, codec, logger)
		app.metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, cfg.Metrics.Path, m,
			func() any { return pipe.Status() }, tracker.Routes(), logger)
	}

	return app, nil
}

// Run drives the tick cadence until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}

	spec := "@every " + a.cfg.Pipeline.Interval.String()
	if _, err := a.cron.AddFunc(spec, func() { a.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule ticks: %w", err)
	}
	a.cron.Start()
	a.logger.Info("engine started", "interval", a.cfg.Pipeline.Interval)

	<-ctx.Done()
	a.logger.Info("shutting down...")

	stop := a.cron.Stop() // waits for a running tick
	<-stop.Done()

	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.metricsSrv.Stop(shutdownCtx)
	}
	a.store.Close()
	return a.database.Close()
}

// tick runs the three cadence jobs sequentially; none of them is
// designed for concurrent self-invocation.
func (a *App) tick(ctx context.Context) {
	a.pipeline.Fetch(ctx)
	a.lifecycle.DeactivateExpired()
	a.lifecycle.ReconcileExhausted()

	if a.cfg.POP3.Enabled {
		src := bounce.NewPOP3Source(a.cfg.POP3.POP3Config)
		if err := a.reconciler.Process(src); err != nil {
			// Transient mailbox trouble: the next tick retries the
			// whole read.
			a.logger.Warn("bounce pass aborted", "error", err)
		}
		if err := src.Close(); err != nil {
			a.logger.Warn("failed to close bounce source", "error", err)
		}
	}
}
