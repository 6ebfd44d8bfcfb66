// Package slack delivers notifications as Slack direct messages and turns
// agents' DM replies into notify.Reply values via Socket Mode. Agent
// addresses are Slack user IDs.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/inspectyard/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Notifier implements notify.Notifier and notify.Listener for Slack.
type Notifier struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	mu           sync.Mutex
	replies      chan notify.Reply
	listening    bool
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken string // xoxb-... bot token
	AppToken string // xapp-... app-level token, required only for Listen
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Notifier and resolves the bot's own user ID so that
// its messages are not read back as replies.
func New(opts Opts) (*Notifier, error) {
	n := &Notifier{
		client:       opts.Client,
		socket:       opts.Socket,
		replies:      make(chan notify.Reply, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if n.client == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("slack: bot token is required")
		}
		var apiOpts []slackapi.Option
		if opts.AppToken != "" {
			apiOpts = append(apiOpts, slackapi.OptionAppLevelToken(opts.AppToken))
		}
		api := slackapi.New(opts.BotToken, apiOpts...)
		n.client = api
		if opts.AppToken != "" && n.socket == nil {
			n.socket = &realSocketClient{client: socketmode.New(api)}
		}
	}

	auth, err := n.client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	n.botUserID = auth.UserID
	return n, nil
}

// Send posts text as a direct message to the user (or channel) address.
// The returned MessageID is the Slack message timestamp.
func (n *Notifier) Send(ctx context.Context, address, text string) (notify.Result, error) {
	if address == "" {
		return notify.Result{}, fmt.Errorf("slack: no address specified")
	}
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = n.client.PostMessage(address, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return notify.Result{}, fmt.Errorf("slack: post message: %w", err)
	}
	return notify.Result{MessageID: ts}, nil
}

// Listen starts the Socket Mode event pump and returns the reply channel.
// The channel is closed when ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context) (<-chan notify.Reply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.socket == nil {
		return nil, fmt.Errorf("slack: app token is required to listen")
	}
	if n.listening {
		return nil, fmt.Errorf("slack: already listening")
	}
	n.listening = true

	go n.runWithReconnect(ctx)
	go n.pumpEvents(ctx)
	return n.replies, nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (n *Notifier) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < n.maxReconnect; attempt++ {
		err := n.socket.Run()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > n.maxBackoff {
			wait = n.maxBackoff
		}
		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, n.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", n.maxReconnect)
}

func (n *Notifier) pumpEvents(ctx context.Context) {
	defer close(n.replies)
	events := n.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			n.handleSocketEvent(ctx, evt)
		}
	}
}

func (n *Notifier) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			n.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			n.handleMessage(ctx, ev)
		}
	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	}
}

// handleMessage forwards a human DM as a reply. Bot messages and edits are
// dropped.
func (n *Notifier) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.User == n.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}
	r := notify.Reply{
		Sender:    ev.User,
		Text:      strings.TrimSpace(ev.Text),
		MessageID: ev.Channel + ":" + ev.TimeStamp,
		Received:  parseSlackTimestamp(ev.TimeStamp),
	}
	select {
	case n.replies <- r:
	case <-ctx.Done():
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp ("1234567890.123456") to a
// time.Time, truncated to the second.
func parseSlackTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(strings.SplitN(ts, ".", 2)[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
