package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"daily-tasks/internal/bot"
	"daily-tasks/internal/config"
	"daily-tasks/internal/httpapi"
	"daily-tasks/internal/logging"
	"daily-tasks/internal/notify"
	"daily-tasks/internal/repository"
	"daily-tasks/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := repository.NewDB(cfg.DatabaseURL, logging.Component(log, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	kv, closeKV, err := newKVStore(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("kv store")
	}
	defer closeKV()

	var api *tgbotapi.BotAPI
	if cfg.TelegramToken != "" {
		api, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram")
		}
		log.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")
	}

	var deliverer notify.Deliverer = notify.NewLogDeliverer(logging.Component(log, "notify"))
	if cfg.NotifySink == "telegram" {
		deliverer = notify.NewTelegramDeliverer(api, cfg.TelegramChatID, cfg.NotifyRatePerSec)
	}

	// onFire is set before anything is registered, so no timer can observe it unset.
	var onFire func(notify.FireEvent)
	port, closePort := newPort(cfg, deliverer, logging.Component(log, "notify"), func(ev notify.FireEvent) { onFire(ev) })
	defer closePort()

	reminders := service.NewReminderScheduler(port, repository.NewBindingRepository(kv), logging.Component(log, "reminders"))
	taskSvc := service.NewTaskService(repository.NewTaskRepository(db), reminders)
	onFire = rearmOnFire(ctx, taskSvc, logging.Component(log, "reminders"))

	status := reminders.Configure(ctx)
	log.Info().Str("permission", string(status)).Msg("notifications configured")
	if _, err := taskSvc.ResyncReminders(ctx); err != nil {
		log.Error().Err(err).Msg("initial resync")
	}

	scheduler := service.NewSchedulerService(time.Local, logging.Component(log, "scheduler"))
	resync := func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := taskSvc.ResyncReminders(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("resync")
		}
	}
	if cfg.ResyncInterval > 0 {
		if _, err := scheduler.ScheduleInterval(cfg.ResyncInterval, resync); err != nil {
			log.Fatal().Err(err).Msg("schedule resync")
		}
	}
	if cfg.ResyncAt != "" {
		if _, err := scheduler.ScheduleDaily(cfg.ResyncAt, resync); err != nil {
			log.Fatal().Err(err).Msg("schedule daily resync")
		}
	}
	if scheduler.Jobs() > 0 {
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewRouter(httpapi.NewTaskController(taskSvc, reminders, logging.Component(log, "http")), logging.Component(log, "http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go serveHTTP(srv, log)
		defer shutdownHTTP(srv, log)
	}

	log.Info().Msg("daily tasks started")
	if cfg.BotEnabled() {
		telegramBot := bot.New(api, cfg.TelegramChatID, taskSvc, reminders, logging.Component(log, "bot"))
		if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("bot stopped with error")
		}
	} else {
		<-ctx.Done()
	}
	log.Info().Msg("shutdown complete")
}

func newKVStore(cfg config.Config, db *gorm.DB) (repository.KVStore, func(), error) {
	if cfg.StorageDriver != "sqlite" {
		return repository.NewGormKV(db), func() {}, nil
	}
	kv, err := repository.OpenSQLiteKV(cfg.KVPath)
	if err != nil {
		return nil, nil, err
	}
	return kv, func() { kv.Close() }, nil
}

// newPort builds the configured notification port. onFire is only called by
// the timer backend; the cron backend relies on the periodic resync.
func newPort(cfg config.Config, deliverer notify.Deliverer, log zerolog.Logger, onFire func(notify.FireEvent)) (notify.Port, func()) {
	if cfg.NotifyBackend == "timer" {
		p := notify.NewTimerPort(deliverer, log, notify.WithFireCallback(onFire))
		return p, p.Close
	}
	p := notify.NewCronPort(deliverer, log, time.Local)
	p.Start()
	return p, p.Stop
}

// rearmOnFire registers the next occurrence as soon as a task reminder fires.
func rearmOnFire(ctx context.Context, tasks *service.TaskService, log zerolog.Logger) func(notify.FireEvent) {
	return func(ev notify.FireEvent) {
		l := log.With().Str("handle", ev.Handle).Str("task_id", ev.Payload.TaskID).Logger()
		if ev.Err != nil {
			l.Warn().Err(ev.Err).Msg("notification fired with delivery error")
		} else {
			l.Info().Time("at", ev.At).Msg("notification fired")
		}
		if ev.Payload.TaskID == "" || ctx.Err() != nil {
			return
		}
		jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		d, err := tasks.RearmReminder(jobCtx, ev.Payload.TaskID)
		if err != nil {
			l.Warn().Err(err).Msg("rearm reminder")
			return
		}
		l.Info().Str("state", string(d.State)).Time("next", d.FireAt).Msg("reminder rearmed")
	}
}

func serveHTTP(srv *http.Server, log zerolog.Logger) {
	log.Info().Str("addr", srv.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server")
	}
}

func shutdownHTTP(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
