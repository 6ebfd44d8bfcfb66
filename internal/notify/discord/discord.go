// Package discord delivers notifications as Discord direct messages and
// forwards agents' DM replies. Agent addresses are Discord user IDs.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/inspectyard/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial retry backoff.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Notifier implements notify.Notifier and notify.Listener for Discord.
type Notifier struct {
	sess        session
	mu          sync.Mutex
	botUserID   string
	dmChannels  map[string]string // user ID -> DM channel ID
	replies     chan notify.Reply
	listening   bool
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier and opens the gateway connection.
func New(opts Opts) (*Notifier, error) {
	n := &Notifier{
		sess:        opts.Session,
		dmChannels:  make(map[string]string),
		replies:     make(chan notify.Reply, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if n.sess == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		n.sess = dg
	}

	n.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		n.mu.Lock()
		n.botUserID = r.User.ID
		n.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	if err := n.sess.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return n, nil
}

// Close shuts the gateway connection.
func (n *Notifier) Close() error {
	return n.sess.Close()
}

// Send delivers text as a DM to the user address. The returned MessageID is
// the Discord message snowflake.
func (n *Notifier) Send(ctx context.Context, address, text string) (notify.Result, error) {
	channelID, err := n.dmChannel(ctx, address)
	if err != nil {
		return notify.Result{}, err
	}
	var msg *discordgo.Message
	err = n.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = n.sess.ChannelMessageSend(channelID, text)
		return sendErr
	})
	if err != nil {
		return notify.Result{}, fmt.Errorf("discord: send message: %w", err)
	}
	var res notify.Result
	if msg != nil {
		res.MessageID = msg.ID
	}
	return res, nil
}

func (n *Notifier) dmChannel(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("discord: no address specified")
	}
	n.mu.Lock()
	id, ok := n.dmChannels[userID]
	n.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *discordgo.Channel
	err := n.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = n.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	n.mu.Lock()
	n.dmChannels[userID] = ch.ID
	n.mu.Unlock()
	return ch.ID, nil
}

// Listen registers a message handler and returns the reply channel. Only
// direct messages from humans are forwarded. The channel is closed when ctx
// is cancelled.
func (n *Notifier) Listen(ctx context.Context) (<-chan notify.Reply, error) {
	n.mu.Lock()
	if n.listening {
		n.mu.Unlock()
		return nil, fmt.Errorf("discord: already listening")
	}
	n.listening = true
	n.mu.Unlock()

	var (
		closeMu sync.Mutex
		closed  bool
	)

	remove := n.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		closeMu.Lock()
		defer closeMu.Unlock()
		if closed {
			return
		}
		if r, ok := n.toReply(m); ok {
			select {
			case n.replies <- r:
			default:
				log.Printf("discord: reply buffer full, dropping message %s", m.ID)
			}
		}
	})

	go func() {
		<-ctx.Done()
		remove()
		closeMu.Lock()
		closed = true
		close(n.replies)
		closeMu.Unlock()
	}()
	return n.replies, nil
}

func (n *Notifier) toReply(m *discordgo.MessageCreate) (notify.Reply, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return notify.Reply{}, false
	}
	n.mu.Lock()
	botID := n.botUserID
	n.mu.Unlock()
	if m.Author.ID == botID || m.GuildID != "" {
		return notify.Reply{}, false
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	return notify.Reply{
		Sender:    m.Author.ID,
		Text:      strings.TrimSpace(m.Content),
		MessageID: m.ID,
		Received:  ts,
	}, true
}

// retryOnRateLimit calls fn and retries with backoff on HTTP 429 responses.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > n.maxBackoff {
			wait = n.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
