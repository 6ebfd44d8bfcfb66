package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/zulandar/inspectyard/internal/config"
	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/db"
	"github.com/zulandar/inspectyard/internal/digest"
	"github.com/zulandar/inspectyard/internal/dispatch"
	"github.com/zulandar/inspectyard/internal/inbound"
	"github.com/zulandar/inspectyard/internal/job"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/notify/discord"
	"github.com/zulandar/inspectyard/internal/notify/slack"
	"github.com/zulandar/inspectyard/internal/notify/twilio"
	"github.com/zulandar/inspectyard/internal/schedule"
	"gorm.io/gorm"
)

// app holds the wired components shared by serve and the one-shot
// commands.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	notifier  notify.Notifier
	texts     notify.Texts
	outbox    *notify.Outbox
	scheduler *schedule.Scheduler
	registry  *job.Registry
	tracker   *confirm.Tracker
	router    *inbound.Router
	reporter  *digest.Reporter
	closeFn   func() error

	mu         sync.Mutex
	reportSpec string
}

// connectFromConfig loads the config and opens the database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newNotifier builds the configured outbound backend. The log backend
// prints messages to out.
func newNotifier(cfg *config.Config, out io.Writer) (notify.Notifier, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Notify.Backend {
	case "twilio":
		n, err := twilio.New(twilio.Opts{
			AccountSID: cfg.Notify.Twilio.AccountSID,
			AuthToken:  cfg.Notify.Twilio.AuthToken,
			From:       cfg.Notify.Twilio.From,
		})
		return n, noop, err
	case "slack":
		n, err := slack.New(slack.Opts{BotToken: cfg.Notify.Slack.BotToken, AppToken: cfg.Notify.Slack.AppToken})
		return n, noop, err
	case "discord":
		n, err := discord.New(discord.Opts{BotToken: cfg.Notify.Discord.BotToken})
		if err != nil {
			return nil, noop, err
		}
		return n, n.Close, nil
	default:
		return notify.NewWriter(out), noop, nil
	}
}

// newApp wires every component on top of gormDB and restores journalled
// timers so cancellations made here reach the journal.
func newApp(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, out io.Writer) (*app, error) {
	n, closeFn, err := newNotifier(cfg, out)
	if err != nil {
		return nil, fmt.Errorf("notify backend %s: %w", cfg.Notify.Backend, err)
	}
	a := &app{cfg: cfg, db: gormDB, notifier: n, closeFn: closeFn, reportSpec: cfg.Schedule.DailyReport}
	texts := notify.Texts{Location: cfg.Location()}
	a.texts = texts

	if a.outbox, err = notify.NewOutbox(notify.OutboxOpts{Notifier: n, DB: gormDB}); err != nil {
		return nil, err
	}
	a.scheduler = schedule.New(schedule.Opts{
		Journal:     schedule.NewGormJournal(gormDB),
		Location:    cfg.Location(),
		Concurrency: cfg.Schedule.FireConcurrency,
	})
	resolver, err := dispatch.New(dispatch.Opts{DB: gormDB, Outbox: a.outbox, Texts: texts})
	if err != nil {
		return nil, err
	}
	a.registry, err = job.New(job.Opts{
		DB:             gormDB,
		Outbox:         a.outbox,
		Resolver:       resolver,
		Scheduler:      a.scheduler,
		Texts:          texts,
		ReminderOffset: cfg.Schedule.ReminderOffset.Duration,
		FollowUpAfter:  cfg.Schedule.FollowUpAfter.Duration,
		StatusInterval: cfg.Schedule.StatusInterval.Duration,
	})
	if err != nil {
		return nil, err
	}
	a.tracker = confirm.NewTracker(gormDB)
	a.router, err = inbound.New(inbound.Opts{Registry: a.registry, Tracker: a.tracker, Outbox: a.outbox, Texts: texts})
	if err != nil {
		return nil, err
	}
	a.reporter, err = digest.New(digest.Opts{
		DB: gormDB, Outbox: a.outbox, Texts: texts, Scheduler: a.scheduler, Location: cfg.Location(),
	})
	if err != nil {
		return nil, err
	}

	restored, err := a.scheduler.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if restored > 0 {
		log.Printf("iy: restored %d timers", restored)
	}
	return a, nil
}

// setReportSpec replaces the daily report cron spec used by the next
// scheduleReports call.
func (a *app) setReportSpec(spec string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reportSpec = spec
}

// scheduleReports re-arms the daily report timers; failures are logged.
func (a *app) scheduleReports(ctx context.Context) {
	a.mu.Lock()
	spec := a.reportSpec
	a.mu.Unlock()

	n, err := a.reporter.ScheduleAll(ctx, spec)
	if err != nil {
		log.Printf("iy: schedule daily reports: %v", err)
		return
	}
	log.Printf("iy: daily reports scheduled for %d agents", n)
}

func (a *app) close() {
	if err := a.closeFn(); err != nil {
		log.Printf("iy: close notifier: %v", err)
	}
}
