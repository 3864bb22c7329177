package broadcast

import "time"

// Config controls batching and pacing of full broadcasts.
type Config struct {
	BatchSize int
	// ChunkSize is the recipient page size read from the store.
	ChunkSize  int
	PauseSmall time.Duration
	PauseLarge time.Duration
	// LargeThreshold switches to PauseLarge once this many recipients were attempted.
	LargeThreshold  int
	MaxErrorSamples int
	// TextLimit bounds the text kept in the broadcast log.
	TextLimit   int
	SendTimeout time.Duration
	// ManagerUsername adds a "contact manager" button to car announcements.
	ManagerUsername string
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       30,
		ChunkSize:       500,
		PauseSmall:      time.Second,
		PauseLarge:      2 * time.Second,
		LargeThreshold:  1000,
		MaxErrorSamples: 10,
		TextLimit:       1000,
		SendTimeout:     15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	// pauses may be explicitly zero
	if c.PauseSmall < 0 {
		c.PauseSmall = d.PauseSmall
	}
	if c.PauseLarge < 0 {
		c.PauseLarge = d.PauseLarge
	}
	if c.LargeThreshold <= 0 {
		c.LargeThreshold = d.LargeThreshold
	}
	if c.MaxErrorSamples <= 0 {
		c.MaxErrorSamples = d.MaxErrorSamples
	}
	if c.TextLimit <= 0 {
		c.TextLimit = d.TextLimit
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

func (c Config) pause(attempted int) time.Duration {
	if attempted < c.LargeThreshold {
		return c.PauseSmall
	}
	return c.PauseLarge
}
