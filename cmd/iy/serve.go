package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/inspectyard/internal/config"
	"github.com/zulandar/inspectyard/internal/db"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/server"
	"github.com/zulandar/inspectyard/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, webhooks and timer loop",
		Long: `Starts the HTTP API and WhatsApp webhooks, restores journalled timers,
arms the daily reports and, for Slack or Discord, listens for agent replies.
Agent changes in the config file are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if err := db.SeedAgents(gormDB, cfg.Agents); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Opts{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure: cfg.Telemetry.Insecure,
		Version:  Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("iy: telemetry shutdown: %v", err)
		}
	}()

	a, err := newApp(ctx, cfg, gormDB, out)
	if err != nil {
		return err
	}
	defer a.close()
	a.scheduleReports(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error {
		return config.Watch(ctx, configPath, func(next *config.Config) {
			if err := db.SeedAgents(gormDB, next.Agents); err != nil {
				log.Printf("iy: reload agents: %v", err)
				return
			}
			a.setReportSpec(next.Schedule.DailyReport)
			log.Printf("iy: config reloaded, %d agents in file", len(next.Agents))
			a.scheduleReports(ctx)
		})
	})
	if l, ok := a.notifier.(notify.Listener); ok {
		g.Go(func() error { return a.router.Listen(ctx, l) })
	}
	g.Go(func() error {
		return server.Start(ctx, server.StartOpts{
			DB:             gormDB,
			Registry:       a.registry,
			Router:         a.router,
			Tracker:        a.tracker,
			Outbox:         a.outbox,
			Scheduler:      a.scheduler,
			Location:       cfg.Location(),
			OnRosterChange: a.scheduleReports,
			Port:           cfg.Server.Port,
			Out:            out,
		})
	})
	return g.Wait()
}
