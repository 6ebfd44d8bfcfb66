// Package twilio delivers notifications over WhatsApp through the Twilio
// Messages API.
package twilio

import (
	"context"
	"fmt"
	"strings"

	twilioclient "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/zulandar/inspectyard/internal/notify"
)

const channelPrefix = "whatsapp:"

// messageAPI abstracts the Twilio call we use, enabling test mocks.
type messageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Notifier implements notify.Notifier for WhatsApp.
type Notifier struct {
	api  messageAPI
	from string
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string // sender number, with or without the whatsapp: prefix
	// For testing: inject a mock API instead of the real Twilio client.
	API messageAPI
}

// New creates a WhatsApp Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.From == "" {
		return nil, fmt.Errorf("twilio: from number is required")
	}
	n := &Notifier{api: opts.API, from: WithChannel(opts.From)}
	if n.api == nil {
		if opts.AccountSID == "" || opts.AuthToken == "" {
			return nil, fmt.Errorf("twilio: account sid and auth token are required")
		}
		client := twilioclient.NewRestClientWithParams(twilioclient.ClientParams{
			Username: opts.AccountSID,
			Password: opts.AuthToken,
		})
		n.api = client.Api
	}
	return n, nil
}

// Send delivers text to address over WhatsApp.
func (n *Notifier) Send(ctx context.Context, address, text string) (notify.Result, error) {
	if err := ctx.Err(); err != nil {
		return notify.Result{}, err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(WithChannel(address))
	params.SetFrom(n.from)
	params.SetBody(text)

	msg, err := n.api.CreateMessage(params)
	if err != nil {
		return notify.Result{}, fmt.Errorf("twilio: create message: %w", err)
	}
	var res notify.Result
	if msg != nil && msg.Sid != nil {
		res.MessageID = *msg.Sid
	}
	return res, nil
}

// WithChannel adds the whatsapp: prefix Twilio expects on addresses.
func WithChannel(address string) string {
	if strings.HasPrefix(address, channelPrefix) {
		return address
	}
	return channelPrefix + address
}

// Address strips the whatsapp: prefix from a Twilio From/To value, giving
// the bare number agents are registered under.
func Address(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), channelPrefix)
}
