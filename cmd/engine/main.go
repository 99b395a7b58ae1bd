package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without a zoneinfo database

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
	"exam_dispatch_engine/internal/domain/participant"
	"exam_dispatch_engine/internal/infra/channel"
	"exam_dispatch_engine/internal/infra/config"
	idb "exam_dispatch_engine/internal/infra/database"
	"exam_dispatch_engine/internal/infra/events"
	"exam_dispatch_engine/internal/infra/httpapi"
	"exam_dispatch_engine/internal/infra/logger"
	"exam_dispatch_engine/internal/infra/memstore"
	"exam_dispatch_engine/internal/infra/metrics"
	"exam_dispatch_engine/internal/infra/runstats"
	"exam_dispatch_engine/internal/infra/scheduler"
	"exam_dispatch_engine/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 30 * time.Second

type stores struct {
	schedules    exam.Repository
	participants participant.Repository
	dispatchLog  notification.Repository
	close        func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	base := logrus.NewEntry(logger.Log)
	mainLogger := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := app.SystemClock{Location: cfg.Location}
	st, err := openStores(ctx, cfg, clock, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize stores")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	// Dispatch pipeline
	emailSender, messageSender := buildChannels(cfg, base)
	dispatcher := app.NewDispatcher(st.participants, st.schedules, st.dispatchLog, emailSender, messageSender, clock, app.DispatcherConfig{
		Concurrency:            cfg.DispatchConcurrency,
		BatchSize:              cfg.AudienceBatchSize,
		ChannelTimeout:         cfg.ChannelTimeout,
		EmailRatePerSecond:     cfg.EmailRatePerSecond,
		MessagingRatePerSecond: cfg.MessagingRatePerSecond,
		MaxAttempts:            cfg.MaxDispatchAttempts,
		ClaimStaleAfter:        cfg.ClaimStaleAfter,
		ExamTitle:              cfg.ExamTitle,
	}, base)
	dispatcher.AddListener(recorder)

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, base.WithField("component", "kafka")), base)
		dispatcher.AddListener(publisher)
		mainLogger.WithField("topic", cfg.KafkaTopic).Info("Dispatch events will be published to Kafka")
	}

	ensurer := app.NewScheduleEnsurer(st.schedules, cfg.Location, base)
	driver := app.NewWorkflowDriver(ensurer, st.schedules, dispatcher, cfg.Location, clock, cfg.ScheduleConcurrency, base)
	driver.AddObserver(recorder)

	var closeRedis func() error
	if cfg.RedisURL != "" {
		rdb, err := runstats.Connect(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Warn("Redis unavailable, run stats disabled")
		} else {
			driver.AddObserver(runstats.NewStore(rdb, base))
			closeRedis = rdb.Close
			mainLogger.Info("Run stats will be written to Redis")
		}
	}

	ops := app.NewOpsService(st.schedules, st.dispatchLog, driver, clock, cfg.AdminTelegramID)

	// Telegram ops bot
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = newBot(cfg.TelegramToken, base)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		driver.AddObserver(app.NewTelegramReporter(telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID, base))
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, base)
		telegram.RegisterOpsHandlers(bot, telegram.NewOpsHandlers(ctx, ops, cfg.WorkflowTimeout, base))
		go bot.Start()
		mainLogger.Info("Telegram ops bot started")
	}

	// Cron triggers
	var cronScheduler *scheduler.WorkflowScheduler
	if cfg.CronEnabled {
		cronScheduler = scheduler.NewWorkflowScheduler(driver, clock, cfg.Location, base,
			cfg.CronSpecWorkflow, cfg.CronSpecRetry, cfg.WorkflowTimeout)
		if err := cronScheduler.Start(); err != nil {
			mainLogger.WithError(err).Fatal("Could not start workflow scheduler")
		}
	} else {
		mainLogger.Warn("CRON_ENABLED=false, runs only start through the ops API or bot")
	}

	// Ops HTTP API
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(ctx, ops, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.OpsAPIToken, cfg.WorkflowTimeout, base).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("Ops HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("Ops HTTP server stopped")
			stop()
		}
	}()

	mainLogger.WithFields(logrus.Fields{
		"timezone":          cfg.Location.String(),
		"dry_run_email":     cfg.DryRunEmail(),
		"dry_run_messaging": cfg.DryRunMessaging(),
	}).Info("Exam dispatch engine started")

	<-ctx.Done()
	mainLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if cronScheduler != nil {
		cronScheduler.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			mainLogger.WithError(err).Warn("Kafka writer close failed")
		}
	}
	if closeRedis != nil {
		closeRedis()
	}
	st.close()
	mainLogger.Info("Application shut down gracefully")
}

func openStores(ctx context.Context, cfg *config.AppConfig, clock app.Clock, log *logrus.Entry) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using in-memory stores, nothing survives a restart")
		return &stores{
			schedules:    memstore.NewScheduleStore(cfg.Location).WithClock(clock.Now),
			participants: memstore.NewParticipantStore(),
			dispatchLog:  memstore.NewDispatchLogStore(),
			close:        func() {},
		}, nil
	}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := idb.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Database connection established")
	return &stores{
		schedules:    idb.NewPostgresScheduleRepository(db, cfg.Location),
		participants: idb.NewPostgresParticipantRepository(db),
		dispatchLog:  idb.NewPostgresDispatchLogRepository(db),
		close:        func() { db.Close() },
	}, nil
}

func buildChannels(cfg *config.AppConfig, base *logrus.Entry) (notification.EmailSender, notification.MessageSender) {
	var emailSender notification.EmailSender
	if cfg.DryRunEmail() {
		base.Warn("SMTP_HOST not set, reminder emails are only logged")
		emailSender = channel.NewLogEmailSender(cfg.ExamTitle, base.WithField("component", "email_dryrun"))
	} else {
		emailSender = channel.NewSMTPEmailSender(channel.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     strconv.Itoa(cfg.SMTP.Port),
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, cfg.ExamTitle)
	}

	var messageSender notification.MessageSender
	if cfg.DryRunMessaging() {
		base.Warn("MESSAGING_GATEWAY_URL not set, gateway messages are only logged")
		messageSender = channel.NewLogMessageSender(base.WithField("component", "messaging_dryrun"))
	} else {
		messageSender = channel.NewHTTPMessageSender(channel.GatewayConfig{
			URL:    cfg.Gateway.URL,
			Token:  cfg.Gateway.Token,
			Sender: cfg.Gateway.Sender,
		}, cfg.ChannelTimeout)
	}
	return emailSender, messageSender
}

func newBot(token string, base *logrus.Entry) (*telebot.Bot, error) {
	botLogger := base.WithField("component", "telebot")
	return telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
}
