package twilio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type mockAPI struct {
	mu     sync.Mutex
	params []*openapi.CreateMessageParams
	err    error
	sid    string
}

func (m *mockAPI) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	sid := m.sid
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Opts
		wantErr string
	}{
		{"missing from", Opts{AccountSID: "AC", AuthToken: "t"}, "from number is required"},
		{"missing creds", Opts{From: "+1"}, "account sid and auth token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RealClient(t *testing.T) {
	n, err := New(Opts{AccountSID: "AC123", AuthToken: "token", From: "+14155238886"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.api == nil {
		t.Fatal("expected a real API client")
	}
	if n.from != "whatsapp:+14155238886" {
		t.Errorf("from = %q", n.from)
	}
}

func TestSend(t *testing.T) {
	api := &mockAPI{sid: "SM123"}
	n, err := New(Opts{From: "whatsapp:+14155238886", API: api})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := n.Send(context.Background(), "+2348000000001", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "SM123" {
		t.Errorf("MessageID = %q, want SM123", res.MessageID)
	}
	if len(api.params) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+2348000000001" {
		t.Errorf("To = %q", *p.To)
	}
	if *p.From != "whatsapp:+14155238886" {
		t.Errorf("From = %q", *p.From)
	}
	if *p.Body != "hello" {
		t.Errorf("Body = %q", *p.Body)
	}
}

func TestSend_Error(t *testing.T) {
	api := &mockAPI{err: errors.New("21211 invalid To")}
	n, _ := New(Opts{From: "+1", API: api})

	_, err := n.Send(context.Background(), "+2", "x")
	if err == nil || !strings.Contains(err.Error(), "twilio: create message") {
		t.Errorf("Send() error = %v", err)
	}
}

func TestSend_CancelledContext(t *testing.T) {
	api := &mockAPI{sid: "SM1"}
	n, _ := New(Opts{From: "+1", API: api})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := n.Send(ctx, "+2", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
	if len(api.params) != 0 {
		t.Error("API should not be called with a cancelled context")
	}
}

func TestAddressHelpers(t *testing.T) {
	if got := WithChannel("+1"); got != "whatsapp:+1" {
		t.Errorf("WithChannel(+1) = %q", got)
	}
	if got := WithChannel("whatsapp:+1"); got != "whatsapp:+1" {
		t.Errorf("WithChannel keeps prefix once, got %q", got)
	}
	if got := Address(" whatsapp:+1 "); got != "+1" {
		t.Errorf("Address() = %q, want +1", got)
	}
	if got := Address("+1"); got != "+1" {
		t.Errorf("Address() = %q, want +1", got)
	}
}
