package config

import (
	"errors"
	"fmt"

	"burstrank/internal/blur"
	"burstrank/internal/match"
	"burstrank/internal/vision"
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// MaxRankLimit is the highest star rating a sidecar can carry.
const MaxRankLimit = 5

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	}
	if c.MaxImages < 1 {
		return fmt.Errorf("%w: max_images must be at least 1", ErrInvalid)
	}
	if c.MaxRank < 1 || c.MaxRank > MaxRankLimit {
		return fmt.Errorf("%w: max_rank must be between 1 and %d, got %d", ErrInvalid, MaxRankLimit, c.MaxRank)
	}
	if err := c.validateSimilarity(); err != nil {
		return err
	}
	if err := c.validateBlur(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be console or json, got %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

func (c *Config) validateSimilarity() error {
	s := c.Similarity
	if _, err := match.ParseStrategy(s.Strategy); err != nil {
		return fmt.Errorf("%w: similarity.strategy: %v", ErrInvalid, err)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("%w: similarity.threshold must be positive", ErrInvalid)
	}
	if _, err := vision.ParseDims(s.Resize); err != nil {
		return fmt.Errorf("%w: similarity.resize: %v", ErrInvalid, err)
	}
	if err := validateCrop("similarity.crop", s.Crop); err != nil {
		return err
	}
	for _, r := range s.BlurRadii {
		if r < 0 {
			return fmt.Errorf("%w: similarity.blur_radii must not be negative", ErrInvalid)
		}
	}
	if s.MinContour < 0 || s.Delta < 0 {
		return fmt.Errorf("%w: similarity.min_contour and similarity.delta must not be negative", ErrInvalid)
	}
	if s.PairWindowSeconds < 0 {
		return fmt.Errorf("%w: similarity.pair_window_seconds must not be negative", ErrInvalid)
	}
	return nil
}

func (c *Config) validateBlur() error {
	if _, err := blur.ParseAlgorithm(c.Blur.Algorithm); err != nil {
		return fmt.Errorf("%w: blur.algorithm: %v", ErrInvalid, err)
	}
	if _, err := vision.ParseDims(c.Blur.Resize); err != nil {
		return fmt.Errorf("%w: blur.resize: %v", ErrInvalid, err)
	}
	return validateCrop("blur.crop", c.Blur.Crop)
}

func validateCrop(key string, v int) error {
	if v < 0 || v > 99 {
		return fmt.Errorf("%w: %s must be between 0 and 99, got %d", ErrInvalid, key, v)
	}
	return nil
}
