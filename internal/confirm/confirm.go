// Package confirm keeps the audit ledger of agent replies and answers the
// idempotency questions the inbound path asks before applying a command.
package confirm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker records agent replies per (job, agent) pair.
type Tracker struct {
	confirmations *store.Collection[models.Confirmation]
	messages      *store.Collection[models.ProcessedMessage]
	now           func() time.Time
}

// NewTracker returns a Tracker over db.
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{
		confirmations: store.NewCollection[models.Confirmation](db),
		messages:      store.NewCollection[models.ProcessedMessage](db),
		now:           time.Now,
	}
}

// Record upserts the reply of agent to job. A repeat reply from the same
// agent on the same job overwrites the response, bumps the reply count and
// resets the record to pending until it is processed again.
func (t *Tracker) Record(ctx context.Context, jobID, agent, response, messageID string) (*models.Confirmation, error) {
	if jobID == "" || agent == "" {
		return nil, fmt.Errorf("confirm: job id and agent are required")
	}
	now := t.now().UTC()
	rec := &models.Confirmation{
		JobID:           jobID,
		AgentAddress:    agent,
		Response:        strings.ToUpper(response),
		CompletionState: models.ConfirmationPending,
		MessageID:       messageID,
		Replies:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := t.confirmations.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "agent_address"}},
		DoUpdates: clause.Assignments(map[string]any{
			"response":         rec.Response,
			"completion_state": models.ConfirmationPending,
			"message_id":       messageID,
			"replies":          gorm.Expr("confirmations.replies + 1"),
			"confirmed_at":     nil,
			"updated_at":       now,
		}),
	}).Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("confirm: record %s/%s: %w", jobID, agent, err)
	}
	return t.Get(ctx, jobID, agent)
}

// Get returns the record for (job, agent), or store.ErrNotFound.
func (t *Tracker) Get(ctx context.Context, jobID, agent string) (*models.Confirmation, error) {
	return t.confirmations.FindOne(ctx, store.Query{"job_id": jobID, "agent_address": agent})
}

// MarkConfirmed flags the (job, agent) record as fully processed. It
// reports false when no record exists.
func (t *Tracker) MarkConfirmed(ctx context.Context, jobID, agent string) (bool, error) {
	n, err := t.confirmations.UpdateWhere(ctx,
		store.Query{"job_id": jobID, "agent_address": agent},
		map[string]any{"completion_state": models.ConfirmationConfirmed, "confirmed_at": t.now().UTC()})
	if err != nil {
		return false, fmt.Errorf("confirm: mark %s/%s: %w", jobID, agent, err)
	}
	return n > 0, nil
}

// AlreadyProcessed reports whether agent's latest reply to job was the
// given command and has already been applied.
func (t *Tracker) AlreadyProcessed(ctx context.Context, jobID, agent, response string) (bool, error) {
	n, err := t.confirmations.Count(ctx, store.Query{
		"job_id":           jobID,
		"agent_address":    agent,
		"response":         strings.ToUpper(response),
		"completion_state": models.ConfirmationConfirmed,
	})
	if err != nil {
		return false, fmt.Errorf("confirm: check %s/%s: %w", jobID, agent, err)
	}
	return n > 0, nil
}

// Pending lists the records for job that have not been processed yet.
func (t *Tracker) Pending(ctx context.Context, jobID string) ([]models.Confirmation, error) {
	return t.confirmations.Find(ctx,
		store.Query{"job_id": jobID, "completion_state": models.ConfirmationPending},
		store.FindOpts{OrderBy: "created_at"})
}

// ForJob lists every record for job, oldest first.
func (t *Tracker) ForJob(ctx context.Context, jobID string) ([]models.Confirmation, error) {
	return t.confirmations.Find(ctx, store.Query{"job_id": jobID}, store.FindOpts{OrderBy: "created_at"})
}

// SeenMessage remembers an inbound message id and reports whether it had
// been seen before. An empty id is never considered seen.
func (t *Tracker) SeenMessage(ctx context.Context, messageID, sender, body string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	result := t.messages.DB().WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ProcessedMessage{
		MessageID:  messageID,
		Sender:     sender,
		Body:       body,
		ReceivedAt: t.now().UTC(),
	})
	if result.Error != nil {
		return false, fmt.Errorf("confirm: remember message %s: %w", messageID, result.Error)
	}
	return result.RowsAffected == 0, nil
}

// ForgetMessage drops a remembered message id so that a redelivery of a
// message that failed to process is handled again.
func (t *Tracker) ForgetMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	err := t.messages.DB().WithContext(ctx).Where("message_id = ?", messageID).Delete(&models.ProcessedMessage{}).Error
	if err != nil {
		return fmt.Errorf("confirm: forget message %s: %w", messageID, err)
	}
	return nil
}
