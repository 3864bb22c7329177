package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) string { return "" }

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := decode("cfg.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`), noEnv)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := decode("cfg.json", []byte(`{} {}`), noEnv)
	if err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	raw := []byte(`
telegram:
  token: abc
  owner_user_ids: [1, 2]
reminders:
  enabled: false
digest:
  at: "09:30"
broadcast:
  batch_size: 40
  pause_small: 500ms
`)
	cfg, err := decode("cfg.yaml", raw, noEnv)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if !cfg.Digest.IsEnabled() || cfg.Digest.At != "09:30" {
		t.Fatalf("digest = %+v, want enabled by default", cfg.Digest)
	}
	if cfg.Reminders.IsEnabled() {
		t.Fatal("reminders enabled despite an explicit false")
	}
	if cfg.Broadcast.BatchSize != 40 || cfg.Broadcast.PauseSmall != "500ms" {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvToken:    "from-env",
		EnvDBPath:   "/tmp/x.db",
		EnvAdminIDs: "10, 20;30",
		EnvDigestAt: "08:15",
	}
	cfg, err := decode("cfg.json", []byte(`{"telegram":{"token":"file"}}`), func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want from-env", cfg.Telegram.Token)
	}
	if cfg.Storage.Path != "/tmp/x.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Digest.At != "08:15" {
		t.Fatalf("digest.at = %q", cfg.Digest.At)
	}
	want := []int64{10, 20, 30}
	if len(cfg.Digest.AdminIDs) != len(want) {
		t.Fatalf("admin ids = %v, want %v", cfg.Digest.AdminIDs, want)
	}
	for i := range want {
		if cfg.Digest.AdminIDs[i] != want[i] {
			t.Fatalf("admin ids = %v, want %v", cfg.Digest.AdminIDs, want)
		}
	}
}

func TestEnvOverridesRejectBadAdminIDs(t *testing.T) {
	t.Parallel()
	_, err := decode("cfg.json", []byte(`{}`), func(k string) string {
		if k == EnvAdminIDs {
			return "1,abc"
		}
		return ""
	})
	if err == nil {
		t.Fatal("expected error for bad ADMIN_IDS")
	}
}

func TestLoadAndSubscribe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.getenv = noEnv
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Logging.Level != "debug" {
		t.Fatalf("Get() = %+v", m.Get())
	}

	sub := m.Subscribe(1)
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	select {
	case got := <-sub:
		if got.Logging.Level != "warn" {
			t.Fatalf("published level = %q, want warn", got.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	// Same content again is not republished.
	m.reload(t.Context())
	select {
	case <-sub:
		t.Fatal("unchanged config was republished")
	default:
	}
	m.Unsubscribe(sub)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: time.Minute},
		{raw: "0s", want: time.Minute},
		{raw: "5s", want: 5 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Minute)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationOrDefault(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
}
