package config

import "runtime"

const (
	DefaultMaxImages         = 2000
	DefaultMaxRank           = 3
	DefaultStrategy          = "structural"
	DefaultSimilarityCrop    = 15
	DefaultMinContour        = 500
	DefaultDelta             = 25
	DefaultPairWindowSeconds = 2
	DefaultBlurAlgorithm     = "sum_modified_laplacian"
	DefaultBlurResize        = "half"
	DefaultBlurCrop          = 30
)

// Default returns the configuration used when no file or flag overrides a
// value. Threshold and similarity resize stay unset; Normalize derives them
// from the selected strategy.
func Default() Config {
	return Config{
		Workers:   runtime.NumCPU(),
		MaxImages: DefaultMaxImages,
		MaxRank:   DefaultMaxRank,
		Similarity: Similarity{
			Strategy:          DefaultStrategy,
			Crop:              DefaultSimilarityCrop,
			BlurRadii:         []int{5},
			MinContour:        DefaultMinContour,
			Delta:             DefaultDelta,
			PairWindowSeconds: DefaultPairWindowSeconds,
		},
		Blur: Blur{
			Algorithm: DefaultBlurAlgorithm,
			Resize:    DefaultBlurResize,
			Crop:      DefaultBlurCrop,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}
