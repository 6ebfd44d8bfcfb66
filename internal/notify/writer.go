package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Writer is a Notifier that prints each message to an io.Writer. It backs
// the "log" backend used for local runs.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	seq atomic.Int64
}

// NewWriter creates a Writer notifier.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Send prints the message and always succeeds unless the writer fails.
func (w *Writer) Send(ctx context.Context, address, text string) (Result, error) {
	id := fmt.Sprintf("LOG%06d", w.seq.Add(1))
	w.mu.Lock()
	defer w.mu.Unlock()
	indented := "  " + strings.ReplaceAll(text, "\n", "\n  ")
	if _, err := fmt.Fprintf(w.out, "-> %s [%s]\n%s\n", address, id, indented); err != nil {
		return Result{}, err
	}
	return Result{MessageID: id}, nil
}
