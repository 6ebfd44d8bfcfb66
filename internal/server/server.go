// Package server exposes the job registry, agent roster and messaging
// webhooks over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/inbound"
	"github.com/zulandar/inspectyard/internal/job"
	"github.com/zulandar/inspectyard/internal/notify"
	"github.com/zulandar/inspectyard/internal/schedule"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB        *gorm.DB
	Registry  *job.Registry
	Router    *inbound.Router
	Tracker   *confirm.Tracker
	Outbox    *notify.Outbox
	Scheduler *schedule.Scheduler // optional; backs GET /api/timers
	Location  *time.Location      // zone for inspection_date/inspection_time; defaults to UTC

	// OnRosterChange runs after an agent is added, removed or changes
	// status, e.g. to re-arm daily reports.
	OnRosterChange func(ctx context.Context)

	Port int
	Out  io.Writer
}

// NewRouter validates opts and builds the gin engine with every route
// registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("server: inbound router is required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("server: outbox is required")
	}
	if opts.Tracker == nil {
		opts.Tracker = confirm.NewTracker(opts.DB)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.OnRosterChange == nil {
		opts.OnRosterChange = func(context.Context) {}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &opts)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8000
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
