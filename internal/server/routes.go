package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/inspectyard/internal/confirm"
	"github.com/zulandar/inspectyard/internal/job"
	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/roster"
	"github.com/zulandar/inspectyard/internal/schedule"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts *StartOpts) {
	router.GET("/health", handleHealth(opts))

	api := router.Group("/api")

	jobs := api.Group("/jobs")
	jobs.POST("", handleCreateJob(opts))
	jobs.GET("", handleListJobs(opts))
	jobs.GET("/:id", handleGetJob(opts))
	jobs.DELETE("/:id", handleDeleteJob(opts))
	jobs.POST("/:id/approve", handleTransition(opts, job.EventConfirm))
	jobs.POST("/:id/start", handleTransition(opts, job.EventStart))
	jobs.POST("/:id/complete", handleTransition(opts, job.EventComplete))

	agents := api.Group("/agents")
	agents.GET("", handleListAgents(opts))
	agents.POST("", handleAddAgent(opts))
	agents.GET("/:id", handleGetAgent(opts))
	agents.PUT("/:id", handleUpdateAgent(opts))
	agents.DELETE("/:id", handleRemoveAgent(opts))
	agents.POST("/:id/status", handleAgentStatus(opts))

	hooks := api.Group("/webhooks/whatsapp")
	hooks.POST("", handleInbound(opts))
	hooks.POST("/status", handleDeliveryStatus(opts))

	api.GET("/timers", handleTimers(opts))
	api.GET("/events", handleEvents(opts))
}

func handleHealth(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  "ok",
		}
		sqlDB, err := opts.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			body["status"], body["database"] = "degraded", err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// createJobRequest accepts either scheduled_for (RFC 3339) or the
// inspection_date + inspection_time pair used by booking forms.
type createJobRequest struct {
	Property            models.Property `json:"property"`
	Client              models.Client   `json:"client"`
	ScheduledFor        *time.Time      `json:"scheduled_for"`
	InspectionDate      string          `json:"inspection_date"`
	InspectionTime      string          `json:"inspection_time"`
	Notes               string          `json:"notes"`
	PreferExistingAgent bool            `json:"prefer_existing_agent"`
}

func (r createJobRequest) when(loc *time.Location) (time.Time, error) {
	if r.ScheduledFor != nil && !r.ScheduledFor.IsZero() {
		return *r.ScheduledFor, nil
	}
	if r.InspectionDate == "" || r.InspectionTime == "" {
		return time.Time{}, errors.New("scheduled_for or inspection_date and inspection_time are required")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", r.InspectionDate+" "+r.InspectionTime, loc)
	if err != nil {
		return time.Time{}, errors.New("inspection_date must be YYYY-MM-DD and inspection_time HH:MM")
	}
	return t, nil
}

func handleCreateJob(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if strings.TrimSpace(req.Client.Phone) == "" {
			badRequest(c, "client.phone is required")
			return
		}
		when, err := req.when(opts.Location)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		j, err := opts.Registry.CreateJob(c.Request.Context(), job.CreateRequest{
			Property:            req.Property,
			Client:              req.Client,
			ScheduledFor:        when,
			Notes:               req.Notes,
			PreferExistingAgent: req.PreferExistingAgent,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, j)
	}
}

func handleListJobs(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := job.ListFilters{
			Status:      models.JobStatus(c.Query("status")),
			Agent:       c.Query("agent"),
			ClientPhone: c.Query("client_phone"),
			PropertyID:  c.Query("property_id"),
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}
		jobs, err := opts.Registry.List(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
	}
}

func handleGetJob(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		j, err := opts.Registry.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		recs, err := opts.Tracker.ForJob(ctx, j.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job":           j,
			"next_action":   confirm.NextAction(j.Status),
			"confirmations": recs,
			"timers":        timerViews(opts.Scheduler, j.ID),
		})
	}
}

func handleDeleteJob(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		existed, err := opts.Registry.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if !existed {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// handleTransition applies an operator-driven lifecycle step, bypassing
// the assigned-agent check that inbound replies go through.
func handleTransition(opts *StartOpts, ev job.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, err := opts.Registry.Apply(c.Request.Context(), c.Param("id"), ev, "")
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, j)
	}
}

type timerView struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Key    string    `json:"key"`
	FireAt time.Time `json:"fire_at"`
	Every  string    `json:"every,omitempty"`
	Cron   string    `json:"cron,omitempty"`
}

// timerViews lists pending timers, optionally only those keyed by key.
func timerViews(s *schedule.Scheduler, key string) []timerView {
	views := []timerView{}
	if s == nil {
		return views
	}
	for _, t := range s.Pending() {
		if key != "" && t.Key != key {
			continue
		}
		v := timerView{ID: t.ID, Kind: string(t.Kind), Key: t.Key, FireAt: t.FireAt, Cron: t.Cron}
		if t.Every > 0 {
			v.Every = t.Every.String()
		}
		views = append(views, v)
	}
	return views
}

func handleTimers(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		views := timerViews(opts.Scheduler, c.Query("key"))
		c.JSON(http.StatusOK, gin.H{"timers": views, "count": len(views)})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, roster.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, job.ErrInvalidTransition), errors.Is(err, roster.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, roster.ErrInvalidStatus):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
