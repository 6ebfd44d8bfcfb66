package notify

import (
	"context"
	"time"
)

// Reply is one inbound text from a messaging backend.
type Reply struct {
	Sender    string
	Text      string
	MessageID string
	Received  time.Time
}

// Listener is implemented by backends that receive replies over a
// persistent connection rather than a webhook.
type Listener interface {
	Listen(ctx context.Context) (<-chan Reply, error)
}
