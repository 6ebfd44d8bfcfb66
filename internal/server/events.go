package server

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/inspectyard/internal/models"
)

var (
	eventPollInterval = 3 * time.Second
	eventHeartbeat    = 15 * time.Second
)

// jobEvent is sent whenever a job is created or changes status.
type jobEvent struct {
	JobID         string           `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	AssignedAgent string           `json:"assigned_agent,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// handleEvents streams job changes as server-sent events by polling the
// jobs table for rows updated since the last tick.
func handleEvents(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		since := time.Now().UTC()
		ctx := c.Request.Context()
		ticker := time.NewTicker(eventPollInterval)
		heartbeat := time.NewTicker(eventHeartbeat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var changed []models.Job
				if err := opts.DB.WithContext(ctx).
					Where("updated_at > ?", since).
					Order("updated_at ASC").
					Find(&changed).Error; err != nil || len(changed) == 0 {
					continue
				}
				since = changed[len(changed)-1].UpdatedAt
				for _, j := range changed {
					writeSSE(c.Writer, "job", jobEvent{
						JobID:         j.ID,
						Status:        j.Status,
						AssignedAgent: j.AssignedAgent,
						UpdatedAt:     j.UpdatedAt,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
