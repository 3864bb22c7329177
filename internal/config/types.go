package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Reminders     RemindersConfig     `json:"reminders"`
	Digest        DigestConfig        `json:"digest"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied by BOT_TOKEN (.env or environment).
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	// RatePerSec caps outbound sends across the whole process. Default 25.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the SQLite database. DB_PATH overrides Path.
//
// Example:
//
//	"storage": { "path": "./data/rentbot.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemindersConfig controls the per-minute payment reminder loop.
//
// Enabled is a pointer so an omitted value (run the loop) differs from an
// explicit false.
type RemindersConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Interval is the tick period. Default "60s".
	Interval string `json:"interval,omitempty"`
	// TickTimeout bounds a single tick. Default "50s".
	TickTimeout string `json:"tick_timeout,omitempty"`
	// Timezone used to derive HH:MM and the calendar day. Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// DigestConfig controls the daily administrator digests. An omitted
// enabled means true.
type DigestConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// At is the daily fire time as HH:MM. Invalid values fall back to "10:00".
	At       string `json:"at,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// AdminIDs optionally restricts recipients to stored administrators in this list.
	AdminIDs []int64 `json:"admin_ids,omitempty"`
}

func (c RemindersConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c DigestConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// BroadcastConfig controls fan-out pacing.
//
// Defaults (when fields are omitted/zero):
//   - batch_size: 30
//   - chunk_size: 500
//   - pause_small: "1s"
//   - pause_large: "2s"
//   - large_threshold: 1000
//   - max_error_samples: 10
//   - text_limit: 1000
//   - send_timeout: "15s"
//
// manager_username (optional) adds a "contact manager" button to car announcements.
type BroadcastConfig struct {
	BatchSize       int    `json:"batch_size,omitempty"`
	ChunkSize       int    `json:"chunk_size,omitempty"`
	PauseSmall      string `json:"pause_small,omitempty"`
	PauseLarge      string `json:"pause_large,omitempty"`
	LargeThreshold  int    `json:"large_threshold,omitempty"`
	MaxErrorSamples int    `json:"max_error_samples,omitempty"`
	TextLimit       int    `json:"text_limit,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	ManagerUsername string `json:"manager_username,omitempty"`
}

// ObservabilityConfig controls the optional debug HTTP server
// (/healthz, /metrics, /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - A non-loopback address requires a token.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`
}
