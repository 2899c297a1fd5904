// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-channel-access/internal/application"
	"telegram-channel-access/internal/config"
	"telegram-channel-access/internal/domain/ports/adapter"
	tele "telegram-channel-access/internal/infra/adapters/telegram"
	"telegram-channel-access/internal/infra/api"
	pg "telegram-channel-access/internal/infra/db/postgres"
	"telegram-channel-access/internal/infra/i18n"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"
	red "telegram-channel-access/internal/infra/redis"
	"telegram-channel-access/internal/infra/retry"
	"telegram-channel-access/internal/infra/sched"
	"telegram-channel-access/internal/infra/worker"
	"telegram-channel-access/internal/usecase"
)

// set via -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no-op transport without a token)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting channel access service")

	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	codeRepo := pg.NewAccessCodeRepo(pool)
	grantRepo := pg.NewGrantRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	notifRepo := pg.NewNotificationLogRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Redis (optional) ----
	var limiter application.AttemptLimiter
	var locker sched.Locker
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; running without attempt limiting and sweep lock")
		} else {
			defer rc.Close()
			limiter = red.NewRateLimiter(rc, cfg.CodeAttempts.Limit, cfg.CodeAttempts.Window)
			locker = red.NewLocker(rc)
		}
	}

	// ---- Transport ----
	var raw adapter.MessagingTransport
	var bot *tele.BotTransport
	var source tele.UpdateSource
	if cfg.Bot.Noop || cfg.Bot.Token == "" {
		logger.Warn().Msg("no-op transport: outbound calls are logged, updates are not polled")
		raw = tele.NewNoopTransport(logger)
	} else {
		botAPI, err := tele.NewBotAPI(&cfg.Bot, &cfg.Transport, "")
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram authorized")
		bot = tele.NewBotTransport(botAPI, cfg.Transport.RateLimit, tr, logger)
		raw, source = bot, botAPI
	}

	policy := retry.Policy{MaxRetries: cfg.Transport.MaxRetries, Delay: cfg.Transport.RetryDelay}
	transport := tele.NewRetryingTransport(raw, policy, cfg.Transport.CallTimeout, logger)
	transport.OnStop(func(cause error) {
		if cfg.Operator.ChatID == 0 {
			return
		}
		nctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.CallTimeout)
		defer cancel()
		if err := raw.SendMessage(nctx, cfg.Operator.ChatID, tr.T("operator_transport_stopped", cause.Error()), nil); err != nil {
			logger.Error().Err(err).Msg("operator stop notice not delivered")
		}
	})

	// ---- Use cases ----
	channels := usecase.ChannelMap{Daily: cfg.Channels.Daily, Monthly: cfg.Channels.Monthly, Yearly: cfg.Channels.Yearly}
	codeUC := usecase.NewCodeUseCase(codeRepo, grantRepo, txm, logger)
	grantUC := usecase.NewGrantUseCase(grantRepo)
	provisionUC := usecase.NewProvisionUseCase(codeRepo, subRepo, grantRepo, txm, transport, channels, tr, cfg.Operator.ChatID, logger)
	expiryUC := usecase.NewExpiryUseCase(subRepo, transport, channels, cfg.Sweeper.BatchSize, tr, cfg.Operator.ChatID, logger)
	reminderUC := usecase.NewReminderUseCase(subRepo, notifRepo, transport, tr, cfg.Reminder.WithinDays, logger)
	statusUC := usecase.NewStatusUseCase(grantRepo, subRepo)
	healthUC := usecase.NewHealthUseCase(codeRepo, grantRepo, transport)

	router := application.NewEventRouter(codeUC, grantUC, provisionUC, statusUC, limiter, tr, logger)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Intake ----
	events := worker.NewPool(cfg.Bot.Workers, 256, logger)
	events.Start(gctx)
	defer events.Stop()

	if source != nil {
		poller := tele.NewPoller(source, router, transport, bot, events, transport, cfg.Bot.PollTimeout, cfg.Transport.RetryDelay, logger)
		g.Go(func() error {
			// a stopped transport keeps the process up so /health reports it
			if err := poller.Run(gctx); err != nil {
				logger.Error().Err(err).Msg("polling stopped; restart required")
			}
			return nil
		})
	}

	// ---- Schedulers ----
	expiryWorker := sched.NewExpiryWorker(cfg.Sweeper.Interval, cfg.Sweeper.StartupDelay, cfg.Sweeper.LockTTL, expiryUC, locker, logger)
	g.Go(func() error { return ignoreCanceled(expiryWorker.Run(gctx)) })

	if cfg.Reminder.Enabled {
		reminderWorker := sched.NewReminderWorker(cfg.Reminder.Interval, reminderUC, logger)
		g.Go(func() error { return ignoreCanceled(reminderWorker.Run(gctx)) })
	}

	g.Go(func() error {
		reportPoolStats(gctx, pool, 30*time.Second)
		return nil
	})

	// ---- HTTP ----
	srv := api.NewServer(codeUC, healthUC, api.NewAuthenticator(cfg.Admin.JWTSecret), 10*time.Second, logger)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Admin.Port) })

	<-gctx.Done()
	logger.Info().Msg("shutdown requested")
	return g.Wait()
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s := pool.Stat()
		metrics.ObserveDBPool(metrics.PoolStats{
			Total:         s.TotalConns(),
			Idle:          s.IdleConns(),
			Acquired:      s.AcquiredConns(),
			Max:           s.MaxConns(),
			EmptyAcquires: s.EmptyAcquireCount(),
		})
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
