package config

import (
	"runtime"
	"strings"

	"burstrank/internal/match"
)

// Normalize lower-cases names and fills values that depend on other settings.
// It is safe to call more than once.
func (c *Config) Normalize() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}

	s := &c.Similarity
	s.Strategy = strings.ToLower(strings.TrimSpace(s.Strategy))
	if s.Strategy == "" {
		s.Strategy = DefaultStrategy
	}
	if kind, err := match.ParseStrategy(s.Strategy); err == nil {
		if s.Threshold == 0 {
			s.Threshold = kind.DefaultThreshold()
		}
		if strings.TrimSpace(s.Resize) == "" {
			s.Resize = kind.DefaultResize()
		}
	}

	c.Blur.Algorithm = strings.ToLower(strings.TrimSpace(c.Blur.Algorithm))
	if c.Blur.Algorithm == "" {
		c.Blur.Algorithm = DefaultBlurAlgorithm
	}
	if strings.TrimSpace(c.Blur.Resize) == "" {
		c.Blur.Resize = DefaultBlurResize
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
