package studio

import (
	"github.com/cotstudio/cot-studio-go/internal/database"
)

// Config exposes a stable wrapper for database configuration in package mode.
// Fields map directly to the internal database configuration.
type Config struct {
	URL            string
	AuthToken      string
	EmbeddingDims  int
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

func (c *Config) toInternal() *database.Config {
	internal := database.NewConfig()
	if c.URL != "" {
		internal.URL = c.URL
	}
	if c.AuthToken != "" {
		internal.AuthToken = c.AuthToken
	}
	if c.EmbeddingDims > 0 {
		internal.EmbeddingDims = c.EmbeddingDims
	}
	if c.MaxOpenConns > 0 {
		internal.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		internal.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxIdleSec > 0 {
		internal.ConnMaxIdleSec = c.ConnMaxIdleSec
	}
	if c.ConnMaxLifeSec > 0 {
		internal.ConnMaxLifeSec = c.ConnMaxLifeSec
	}
	return internal
}
