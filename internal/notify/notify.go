// Package notify is the outbound messaging port. A Notifier delivers one
// text to one address; an Outbox wraps a Notifier with a delivery log and
// metrics and is what the rest of the system sends through.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/inspectyard/internal/models"
	"github.com/zulandar/inspectyard/internal/store"
	"github.com/zulandar/inspectyard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

// ErrDelivery wraps every failed send.
var ErrDelivery = errors.New("notify: delivery failed")

// Result describes an accepted send.
type Result struct {
	MessageID string
}

// Notifier sends a text message to an address. Implementations report
// success or failure per send and make no delivery guarantees.
type Notifier interface {
	Send(ctx context.Context, address, text string) (Result, error)
}

// Purpose labels why a message was sent; it is logged and used as a metric
// attribute.
type Purpose string

const (
	PurposeOffer            Purpose = "offer"
	PurposeAssigned         Purpose = "assigned"
	PurposeAgentAssigned    Purpose = "agent_assigned"
	PurposeTaken            Purpose = "taken"
	PurposeAlreadyAssigned  Purpose = "already_assigned"
	PurposeScheduleApproved Purpose = "schedule_approved"
	PurposeStarted          Purpose = "started"
	PurposeCompleted        Purpose = "completed"
	PurposeReminder         Purpose = "reminder"
	PurposeStartPrompt      Purpose = "start_prompt"
	PurposeFollowUp         Purpose = "follow_up"
	PurposeStatusUpdate     Purpose = "status_update"
	PurposeDailyReport      Purpose = "daily_report"
	PurposeAdditional       Purpose = "additional_property"
	PurposeReply            Purpose = "reply"
)

// Message is one outbound text with its bookkeeping labels.
type Message struct {
	Address string
	Text    string
	Purpose Purpose
	JobID   string
}

// OutboxOpts holds parameters for creating an Outbox.
type OutboxOpts struct {
	Notifier Notifier
	DB       *gorm.DB // optional; when set every attempt is written to notification_logs
}

// Outbox delivers messages through a Notifier and records each attempt.
type Outbox struct {
	notifier Notifier
	logs     *store.Collection[models.NotificationLog]
	sent     metric.Int64Counter
	failed   metric.Int64Counter
}

// NewOutbox creates an Outbox.
func NewOutbox(opts OutboxOpts) (*Outbox, error) {
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notify: notifier is required")
	}
	meter := telemetry.Meter("inspectyard/notify")
	o := &Outbox{
		notifier: opts.Notifier,
		sent:     telemetry.Counter(meter, "inspectyard.notify.sent", "Messages accepted by the provider"),
		failed:   telemetry.Counter(meter, "inspectyard.notify.failed", "Messages the provider rejected"),
	}
	if opts.DB != nil {
		o.logs = store.NewCollection[models.NotificationLog](opts.DB)
	}
	return o, nil
}

// Deliver sends m. A failed send returns an error wrapping ErrDelivery; it
// is never retried here.
func (o *Outbox) Deliver(ctx context.Context, m Message) (Result, error) {
	res, err := o.notifier.Send(ctx, m.Address, m.Text)
	attrs := metric.WithAttributes(attribute.String("purpose", string(m.Purpose)))
	if err != nil {
		o.failed.Add(ctx, 1, attrs)
	} else {
		o.sent.Add(ctx, 1, attrs)
	}
	o.record(ctx, m, res, err)
	if err != nil {
		return res, fmt.Errorf("%w: %s to %s: %w", ErrDelivery, m.Purpose, m.Address, err)
	}
	return res, nil
}

// DeliverAll sends every message in order, continuing past failures, and
// returns the joined delivery errors.
func (o *Outbox) DeliverAll(ctx context.Context, msgs ...Message) error {
	var errs []error
	for _, m := range msgs {
		if m.Address == "" {
			continue
		}
		if _, err := o.Deliver(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify is DeliverAll for side effects that must not fail the caller:
// delivery errors are logged and dropped. Sends run on the caller's
// goroutine in order, so Notify blocks until every send has returned.
func (o *Outbox) Notify(ctx context.Context, msgs ...Message) {
	if err := o.DeliverAll(ctx, msgs...); err != nil {
		log.Printf("notify: %v", err)
	}
}

// UpdateStatus records a provider delivery status (e.g. "delivered",
// "read") against the log entry for messageID.
func (o *Outbox) UpdateStatus(ctx context.Context, messageID, status string) (bool, error) {
	if o.logs == nil || messageID == "" {
		return false, nil
	}
	n, err := o.logs.UpdateWhere(ctx, store.Query{"message_id": messageID}, map[string]any{"delivery_status": status})
	if err != nil {
		return false, fmt.Errorf("notify: update status %s: %w", messageID, err)
	}
	return n > 0, nil
}

func (o *Outbox) record(ctx context.Context, m Message, res Result, sendErr error) {
	if o.logs == nil {
		return
	}
	entry := &models.NotificationLog{
		Address:   m.Address,
		Purpose:   string(m.Purpose),
		JobID:     m.JobID,
		MessageID: res.MessageID,
		Success:   sendErr == nil,
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
		entry.DeliveryStatus = "failed"
	} else {
		entry.DeliveryStatus = "sent"
	}
	if err := o.logs.Insert(ctx, entry); err != nil {
		log.Printf("notify: log %s to %s: %v", m.Purpose, m.Address, err)
	}
}
