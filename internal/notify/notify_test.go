package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/inspectyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openNotifyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.NotificationLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestNewOutbox_RequiresNotifier(t *testing.T) {
	_, err := NewOutbox(OutboxOpts{})
	if err == nil {
		t.Fatal("expected error for missing notifier")
	}
	if !strings.Contains(err.Error(), "notifier is required") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestOutbox_Deliver_LogsSuccess(t *testing.T) {
	db := openNotifyTestDB(t)
	mock := NewMock()
	ob, err := NewOutbox(OutboxOpts{Notifier: mock, DB: db})
	if err != nil {
		t.Fatalf("NewOutbox: %v", err)
	}

	res, err := ob.Deliver(context.Background(), Message{Address: "+1", Text: "hi", Purpose: PurposeOffer, JobID: "j1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.MessageID == "" {
		t.Error("expected a message id")
	}

	var logs []models.NotificationLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("log rows = %d, want 1", len(logs))
	}
	l := logs[0]
	if !l.Success || l.Purpose != "offer" || l.JobID != "j1" || l.MessageID != res.MessageID {
		t.Errorf("log = %+v", l)
	}
	if l.DeliveryStatus != "sent" {
		t.Errorf("DeliveryStatus = %q, want sent", l.DeliveryStatus)
	}
}

func TestOutbox_Deliver_FailureWrapsErrDelivery(t *testing.T) {
	db := openNotifyTestDB(t)
	mock := NewMock()
	mock.FailFor("+2", errors.New("number unreachable"))
	ob, _ := NewOutbox(OutboxOpts{Notifier: mock, DB: db})

	_, err := ob.Deliver(context.Background(), Message{Address: "+2", Text: "hi", Purpose: PurposeReminder})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery", err)
	}
	if !strings.Contains(err.Error(), "number unreachable") {
		t.Errorf("error = %q, want provider cause", err.Error())
	}

	var l models.NotificationLog
	db.First(&l)
	if l.Success {
		t.Error("failed send logged as success")
	}
	if l.DeliveryStatus != "failed" || !strings.Contains(l.Error, "number unreachable") {
		t.Errorf("log = %+v", l)
	}
}

func TestOutbox_DeliverAll_ContinuesPastFailures(t *testing.T) {
	mock := NewMock()
	mock.FailFor("+2", errors.New("boom"))
	ob, _ := NewOutbox(OutboxOpts{Notifier: mock})

	err := ob.DeliverAll(context.Background(),
		Message{Address: "+1", Text: "a"},
		Message{Address: "+2", Text: "b"},
		Message{Address: "", Text: "skipped"},
		Message{Address: "+3", Text: "c"},
	)
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery", err)
	}
	sent := mock.Sent()
	if len(sent) != 2 || sent[0].Address != "+1" || sent[1].Address != "+3" {
		t.Errorf("sent = %+v, want +1 and +3", sent)
	}
}

func TestOutbox_Notify_SwallowsErrors(t *testing.T) {
	mock := NewMock()
	mock.FailFor("+2", errors.New("boom"))
	ob, _ := NewOutbox(OutboxOpts{Notifier: mock})

	ob.Notify(context.Background(), Message{Address: "+2", Text: "x"}, Message{Address: "+1", Text: "y"})
	if got := mock.SentTo("+1"); len(got) != 1 {
		t.Errorf("sent to +1 = %v, want one message", got)
	}
}

func TestOutbox_Notify_ReturnsAfterEverySend(t *testing.T) {
	mock := NewMock()
	ob, _ := NewOutbox(OutboxOpts{Notifier: mock})

	ob.Notify(context.Background(), Message{Address: "+1", Text: "a"}, Message{Address: "+2", Text: "b"})
	sent := mock.Sent()
	if len(sent) != 2 || sent[0].Address != "+1" || sent[1].Address != "+2" {
		t.Errorf("sent = %+v, want +1 then +2 before Notify returns", sent)
	}
}

func TestOutbox_UpdateStatus(t *testing.T) {
	db := openNotifyTestDB(t)
	mock := NewMock()
	ob, _ := NewOutbox(OutboxOpts{Notifier: mock, DB: db})
	ctx := context.Background()

	res, _ := ob.Deliver(ctx, Message{Address: "+1", Text: "hi"})
	ok, err := ob.UpdateStatus(ctx, res.MessageID, "delivered")
	if err != nil || !ok {
		t.Fatalf("UpdateStatus = %v, %v; want true, nil", ok, err)
	}
	var l models.NotificationLog
	db.First(&l)
	if l.DeliveryStatus != "delivered" {
		t.Errorf("DeliveryStatus = %q, want delivered", l.DeliveryStatus)
	}

	ok, err = ob.UpdateStatus(ctx, "SMunknown", "read")
	if err != nil || ok {
		t.Errorf("UpdateStatus unknown = %v, %v; want false, nil", ok, err)
	}
}

func TestOutbox_UpdateStatus_NoDB(t *testing.T) {
	ob, _ := NewOutbox(OutboxOpts{Notifier: NewMock()})
	ok, err := ob.UpdateStatus(context.Background(), "SM1", "delivered")
	if ok || err != nil {
		t.Errorf("UpdateStatus without DB = %v, %v; want false, nil", ok, err)
	}
}

func TestWriter_Send(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	res, err := w.Send(context.Background(), "+1555", "line one\nline two")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "LOG000001" {
		t.Errorf("MessageID = %q, want LOG000001", res.MessageID)
	}
	out := buf.String()
	if !strings.Contains(out, "-> +1555 [LOG000001]") {
		t.Errorf("output missing header: %q", out)
	}
	if !strings.Contains(out, "\n  line two") {
		t.Errorf("output not indented: %q", out)
	}
}

func TestMock_SimulateReply(t *testing.T) {
	m := NewMock()
	ch, err := m.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	m.SimulateReply(Reply{Sender: "+1", Text: "YES"})
	select {
	case r := <-ch:
		if r.Text != "YES" {
			t.Errorf("Text = %q, want YES", r.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func testJob() models.Job {
	return models.Job{
		ID:     "j1",
		Status: models.JobApproved,
		Property: models.Property{
			Title: "Harbour View Loft", Address: "12 Quay St", Type: "apartment", Bedrooms: 2, Bathrooms: 1,
		},
		Client:       models.Client{Name: "Dana", Phone: "+15559999"},
		ScheduledFor: time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC),
	}
}

func TestTexts(t *testing.T) {
	tx := Texts{Location: time.UTC}
	j := testJob()
	agent := models.Agent{Name: "Ada", Address: "+15550001"}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"offer", tx.Offer(j), []string{"New Inspection Request", "Harbour View Loft", "Bedrooms: 2", "Sat 14 Mar 2026", "15:30", "Reply YES"}},
		{"assigned", tx.Assigned(j), []string{"Inspection Assigned", "Client: Dana", "+15559999", "replying CONFIRM"}},
		{"agent assigned", tx.AgentAssigned(j, agent), []string{"Agent: Ada", "+15550001"}},
		{"taken", tx.Taken(j), []string{"Job Update", "assigned to another agent"}},
		{"already assigned", tx.AlreadyAssigned(j), []string{"Job Already Assigned"}},
		{"schedule confirmed", tx.ScheduleConfirmed(j), []string{"Schedule Confirmed"}},
		{"client schedule confirmed", tx.ClientScheduleConfirmed(j), []string{"Inspection Confirmed"}},
		{"started", tx.Started(j), []string{"Inspection Started", "Reply COMPLETE"}},
		{"client started", tx.ClientStarted(j), []string{"started the inspection of Harbour View Loft"}},
		{"completed", tx.Completed(j), []string{"Inspection Completed"}},
		{"client completed", tx.ClientCompleted(j), []string{"is complete"}},
		{"reminder", tx.Reminder(j), []string{"Inspection Reminder", "Client Phone: +15559999"}},
		{"client reminder", tx.ClientReminder(j), []string{"Inspection Reminder", "15:30"}},
		{"start prompt", tx.StartPrompt(j), []string{"Reply START"}},
		{"follow up", tx.FollowUp(j), []string{"was completed"}},
		{"status update", tx.StatusUpdate(j), []string{"Status: approved"}},
		{"additional", tx.Additional(j), []string{"Your client Dana", "Reply YES"}},
		{"unrecognized", tx.Unrecognized(), []string{"YES", "CONFIRM", "START", "COMPLETE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.want {
				if !strings.Contains(tt.text, w) {
					t.Errorf("text missing %q:\n%s", w, tt.text)
				}
			}
		})
	}
}

func TestTexts_MissingFieldsShowNA(t *testing.T) {
	text := Texts{}.Offer(models.Job{ScheduledFor: time.Now()})
	if !strings.Contains(text, "Property: N/A") || !strings.Contains(text, "Bedrooms: N/A") {
		t.Errorf("expected N/A placeholders:\n%s", text)
	}
}

func TestTexts_LocationShiftsTime(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	text := Texts{Location: lagos}.StartPrompt(testJob())
	if strings.Contains(text, "15:30") {
		t.Errorf("StartPrompt has no time line, got:\n%s", text)
	}
	text = Texts{Location: lagos}.Reminder(testJob())
	if !strings.Contains(text, "16:30") {
		t.Errorf("expected time in +01:00, got:\n%s", text)
	}
}

func TestTexts_Daily(t *testing.T) {
	text := Texts{}.Daily(DailySummary{
		Date: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), Total: 5, Pending: 1, InProgress: 1, Completed: 3,
	})
	for _, w := range []string{"Daily Summary - 2026-03-14", "Total Inspections: 5", "Completed: 3", "In Progress: 1"} {
		if !strings.Contains(text, w) {
			t.Errorf("daily text missing %q:\n%s", w, text)
		}
	}
}

func TestTexts_NoEligibleJob(t *testing.T) {
	tx := Texts{}
	seen := map[string]bool{}
	for _, cmd := range []string{"YES", "CONFIRM", "START", "COMPLETE", "OTHER"} {
		msg := tx.NoEligibleJob(cmd)
		if msg == "" {
			t.Errorf("NoEligibleJob(%q) is empty", cmd)
		}
		if seen[msg] {
			t.Errorf("NoEligibleJob(%q) duplicates another command's text", cmd)
		}
		seen[msg] = true
	}
}
