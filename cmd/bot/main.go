package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_group_warden_bot/internal/config"
	"tg_group_warden_bot/internal/feature/activity"
	"tg_group_warden_bot/internal/feature/moderation"
	"tg_group_warden_bot/internal/health"
	"tg_group_warden_bot/internal/logging"
	"tg_group_warden_bot/internal/remove"
	"tg_group_warden_bot/internal/report"
	"tg_group_warden_bot/internal/roster"
	"tg_group_warden_bot/internal/store"
	"tg_group_warden_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":     "startup",
		"mongo_db":  cfg.MongoDB,
		"data_file": cfg.DataFile,
	}).Info("configuration loaded")

	bindings, err := store.OpenBindings(cfg.DataFile)
	if err != nil {
		logger.WithError(err).Error("bindings store error")
		fmt.Fprintf(os.Stderr, "bindings store error: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logging.Fields{
		"event": "bindings_loaded",
		"path":  bindings.Path(),
	}).Info("loaded bindings store")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	stats := store.NewStatsProvider(mongoManager.Activity())
	statsCtx, cancelStats := context.WithTimeout(context.Background(), mongoIndexTimeout)
	trackedMembers, membersErr := stats.CountTrackedMembers(statsCtx)
	trackedGroups, groupsErr := stats.CountTrackedGroups(statsCtx)
	cancelStats()
	if membersErr != nil || groupsErr != nil {
		logger.WithFields(logging.Fields{
			"event":         "ledger_stats_error",
			"members_error": membersErr,
			"groups_error":  groupsErr,
		}).Warn("failed to read activity ledger stats")
	} else {
		logger.WithFields(logging.Fields{
			"event":           "ledger_stats",
			"tracked_members": trackedMembers,
			"tracked_groups":  trackedGroups,
		}).Info("activity ledger loaded")
	}

	recorder := activity.NewRecorder(mongoManager.Activity(), logger)

	botAPI := telegram.NewAPI()
	rosterService := roster.NewTelegramService(botAPI, mongoManager.Activity(), logger)
	reporter := report.NewReporter(botAPI, logger)
	remover := remove.NewRemover(rosterService, logger)

	handlers := moderation.NewHandlers(bindings, rosterService, rosterService, reporter, remover, cfg.BotOwnerID, logger)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithActivityRecorder(recorder),
		telegram.WithAPI(botAPI),
		telegram.WithCommandOptions(handlers.Options()...),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, bindings, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
