package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: inspections
  user: svc

server:
  port: 9090
  public_url: https://dispatch.example.com

notify:
  backend: twilio
  twilio:
    account_sid: AC123
    auth_token: secret
    from: "+14155238886"

schedule:
  reminder_offset: 30m
  follow_up_after: 72h
  status_interval: 12h
  daily_report: "30 17 * * 1-5"
  timezone: Africa/Lagos
  fire_concurrency: 8

agents:
  - phone: "+2348000000001"
    name: Ada
    zone: Lekki
    specializations: [residential, commercial]
    experience_years: 4
    rating: 4.7
  - phone: "+2348000000002"
    name: Tunde
`

const fullTOML = `
[database]
driver = "postgres"
name = "inspections"

[notify]
backend = "log"

[schedule]
reminder_offset = "15m"

[[agents]]
phone = "+15550001"
name = "Kim"
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database addr = %s:%d, want 10.0.0.5:3307", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.User != "svc" {
		t.Errorf("Database.User = %q, want %q", cfg.Database.User, "svc")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Notify.Twilio.From != "+14155238886" {
		t.Errorf("Twilio.From = %q, want %q", cfg.Notify.Twilio.From, "+14155238886")
	}
	if cfg.Schedule.ReminderOffset.Duration != 30*time.Minute {
		t.Errorf("ReminderOffset = %v, want 30m", cfg.Schedule.ReminderOffset.Duration)
	}
	if cfg.Schedule.FollowUpAfter.Duration != 72*time.Hour {
		t.Errorf("FollowUpAfter = %v, want 72h", cfg.Schedule.FollowUpAfter.Duration)
	}
	if cfg.Schedule.StatusInterval.Duration != 12*time.Hour {
		t.Errorf("StatusInterval = %v, want 12h", cfg.Schedule.StatusInterval.Duration)
	}
	if cfg.Schedule.DailyReport != "30 17 * * 1-5" {
		t.Errorf("DailyReport = %q", cfg.Schedule.DailyReport)
	}
	if cfg.Schedule.FireConcurrency != 8 {
		t.Errorf("FireConcurrency = %d, want 8", cfg.Schedule.FireConcurrency)
	}
	if cfg.Location().String() != "Africa/Lagos" {
		t.Errorf("Location = %s, want Africa/Lagos", cfg.Location())
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("len(Agents) = %d, want 2", len(cfg.Agents))
	}
	ada := cfg.Agents[0]
	if ada.Name != "Ada" || ada.Zone != "Lekki" || ada.Rating != 4.7 {
		t.Errorf("Agents[0] = %+v", ada)
	}
	if len(ada.Specializations) != 2 {
		t.Errorf("len(Agents[0].Specializations) = %d, want 2", len(ada.Specializations))
	}
}

func TestParse_Empty_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite (default)", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "inspectyard.db" {
		t.Errorf("Database.DSN = %q, want inspectyard.db (default)", cfg.Database.DSN)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000 (default)", cfg.Server.Port)
	}
	if cfg.Notify.Backend != "log" {
		t.Errorf("Notify.Backend = %q, want log (default)", cfg.Notify.Backend)
	}
	if cfg.Schedule.ReminderOffset.Duration != time.Minute {
		t.Errorf("ReminderOffset = %v, want 1m (default)", cfg.Schedule.ReminderOffset.Duration)
	}
	if cfg.Schedule.FollowUpAfter.Duration != 48*time.Hour {
		t.Errorf("FollowUpAfter = %v, want 48h (default)", cfg.Schedule.FollowUpAfter.Duration)
	}
	if cfg.Schedule.StatusInterval.Duration != 24*time.Hour {
		t.Errorf("StatusInterval = %v, want 24h (default)", cfg.Schedule.StatusInterval.Duration)
	}
	if cfg.Schedule.DailyReport != "0 18 * * *" {
		t.Errorf("DailyReport = %q, want default", cfg.Schedule.DailyReport)
	}
	if cfg.Schedule.FireConcurrency != 4 {
		t.Errorf("FireConcurrency = %d, want 4 (default)", cfg.Schedule.FireConcurrency)
	}
}

func TestParse_DriverDefaults(t *testing.T) {
	tests := []struct {
		driver   string
		wantPort int
		wantUser string
	}{
		{"mysql", 3306, "root"},
		{"postgres", 5432, "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg, err := Parse([]byte("database:\n  driver: " + tt.driver + "\n"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Database.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Database.Port, tt.wantPort)
			}
			if cfg.Database.User != tt.wantUser {
				t.Errorf("User = %q, want %q", cfg.Database.User, tt.wantUser)
			}
			if cfg.Database.Host != "127.0.0.1" {
				t.Errorf("Host = %q, want 127.0.0.1", cfg.Database.Host)
			}
		})
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_WHATSAPP_NUMBER", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("DISCORD_BOT_TOKEN", "")

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad driver", "database:\n  driver: oracle\n", "database.driver"},
		{"bad backend", "notify:\n  backend: pigeon\n", "notify.backend"},
		{"twilio without creds", "notify:\n  backend: twilio\n", "account_sid and auth_token"},
		{"twilio without from", "notify:\n  backend: twilio\n  twilio:\n    account_sid: AC1\n    auth_token: x\n", "twilio.from"},
		{"slack without token", "notify:\n  backend: slack\n", "slack.bot_token"},
		{"discord without token", "notify:\n  backend: discord\n", "discord.bot_token"},
		{"negative offset", "schedule:\n  reminder_offset: -5m\n", "reminder_offset"},
		{"bad timezone", "schedule:\n  timezone: Mars/Olympus\n", "schedule.timezone"},
		{"agent without phone", "agents:\n  - name: Nobody\n", "agents[0].phone"},
		{"duplicate agent", "agents:\n  - phone: \"+1\"\n  - phone: \"+1\"\n", "duplicated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("schedule:\n  reminder_offset: soon\n"))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParse_SecretsFromEnv(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "ACenv")
	t.Setenv("TWILIO_AUTH_TOKEN", "tokenenv")
	t.Setenv("TWILIO_WHATSAPP_NUMBER", "+10000000000")

	cfg, err := Parse([]byte("notify:\n  backend: twilio\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Notify.Twilio.AccountSID != "ACenv" {
		t.Errorf("AccountSID = %q, want ACenv", cfg.Notify.Twilio.AccountSID)
	}
	if cfg.Notify.Twilio.From != "+10000000000" {
		t.Errorf("From = %q, want +10000000000", cfg.Notify.Twilio.From)
	}
}

func TestParse_FileValueBeatsEnv(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "ACenv")
	t.Setenv("TWILIO_AUTH_TOKEN", "tokenenv")

	cfg, err := Parse([]byte("notify:\n  backend: twilio\n  twilio:\n    account_sid: ACfile\n    from: \"+1\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Notify.Twilio.AccountSID != "ACfile" {
		t.Errorf("AccountSID = %q, want ACfile", cfg.Notify.Twilio.AccountSID)
	}
}

func TestParseTOML(t *testing.T) {
	cfg, err := ParseTOML([]byte(fullTOML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432 (default)", cfg.Database.Port)
	}
	if cfg.Schedule.ReminderOffset.Duration != 15*time.Minute {
		t.Errorf("ReminderOffset = %v, want 15m", cfg.Schedule.ReminderOffset.Duration)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "Kim" {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "inspectyard.yaml")
	if err := os.WriteFile(yamlPath, []byte(fullYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("yaml Driver = %q, want mysql", cfg.Database.Driver)
	}

	tomlPath := filepath.Join(dir, "inspectyard.toml")
	if err := os.WriteFile(tomlPath, []byte(fullTOML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("Load toml: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("toml Driver = %q, want postgres", cfg.Database.Driver)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/inspectyard.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want config: read prefix", err.Error())
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("INSPECTYARD_TEST_KEY=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INSPECTYARD_TEST_KEY", "")
	os.Unsetenv("INSPECTYARD_TEST_KEY")

	if err := LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("INSPECTYARD_TEST_KEY"); got != "from-file" {
		t.Errorf("INSPECTYARD_TEST_KEY = %q, want from-file", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inspectyard.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8001\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, func(cfg *Config) { got <- cfg.Server.Port })
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  port: 8002\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case port := <-got:
		if port != 8002 {
			t.Errorf("reloaded port = %d, want 8002", port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	<-done
}
