package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"rentbot/internal/broadcast"
	"rentbot/internal/config"
	"rentbot/internal/digest"
	"rentbot/internal/observability/httpd"
	"rentbot/internal/reminder"
	"rentbot/internal/storage"
	telegram "rentbot/internal/transport/telegram/adapter"
	logx "rentbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return telegram.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./data/rentbot.db"
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	interval, err := config.ParseDurationOrDefault("reminders.interval", cfg.Reminders.Interval, reminder.DefaultInterval)
	if err != nil {
		return reminder.Config{}, err
	}
	tickTimeout, err := config.ParseDurationOrDefault("reminders.tick_timeout", cfg.Reminders.TickTimeout, reminder.DefaultTickTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	loc, err := config.LoadLocation("reminders.timezone", cfg.Reminders.Timezone)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:     cfg.Reminders.IsEnabled(),
		Interval:    interval,
		TickTimeout: tickTimeout,
		Location:    loc,
	}, nil
}

// mapDigestConfig keeps an invalid digest.at as is; the registry falls back
// to the default time and says so in the log.
func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	loc, err := config.LoadLocation("digest.timezone", cfg.Digest.Timezone)
	if err != nil {
		return digest.Config{}, err
	}
	return digest.Config{
		Enabled:  cfg.Digest.IsEnabled(),
		At:       cfg.Digest.At,
		Location: loc,
		AdminIDs: append([]int64(nil), cfg.Digest.AdminIDs...),
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	for k, v := range map[string]int{
		"broadcast.batch_size":        b.BatchSize,
		"broadcast.chunk_size":        b.ChunkSize,
		"broadcast.large_threshold":   b.LargeThreshold,
		"broadcast.max_error_samples": b.MaxErrorSamples,
		"broadcast.text_limit":        b.TextLimit,
	} {
		if v < 0 {
			return broadcast.Config{}, fmt.Errorf("%s must be >= 0", k)
		}
	}
	d := broadcast.DefaultConfig()
	small, err := durationOrKeep("broadcast.pause_small", b.PauseSmall, d.PauseSmall)
	if err != nil {
		return broadcast.Config{}, err
	}
	large, err := durationOrKeep("broadcast.pause_large", b.PauseLarge, d.PauseLarge)
	if err != nil {
		return broadcast.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("broadcast.send_timeout", b.SendTimeout, d.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		BatchSize:       b.BatchSize,
		ChunkSize:       b.ChunkSize,
		PauseSmall:      small,
		PauseLarge:      large,
		LargeThreshold:  b.LargeThreshold,
		MaxErrorSamples: b.MaxErrorSamples,
		TextLimit:       b.TextLimit,
		SendTimeout:     sendTimeout,
		ManagerUsername: strings.TrimSpace(b.ManagerUsername),
	}, nil
}

// durationOrKeep treats an omitted value as def but an explicit "0s" as zero,
// so pauses can be switched off.
func durationOrKeep(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return config.ParseDurationField(path, raw)
}

func mapHTTPConfig(cfg *config.Config) (httpd.Config, error) {
	o := cfg.Observability
	addr := strings.TrimSpace(o.Addr)
	if o.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return httpd.Config{}, fmt.Errorf("observability.addr: %w", err)
		}
	}
	return httpd.Config{
		Enabled:      o.Enabled,
		Addr:         addr,
		Token:        strings.TrimSpace(o.Token),
		Pprof:        o.Pprof,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, nil
}

// validateConfig rejects a reloaded config before it is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDigestConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
