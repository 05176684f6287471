package evaluate

import (
	"fmt"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// NoLimit disables the sample cap
const NoLimit = -1

// Defaults of the retrieval procedure
const (
	DefaultKTest         = 128
	DefaultTextBatchSize = 4
	textsPerImage        = 5
)

// Options are the per-run knobs of an evaluation
type Options struct {
	// MaxSamples caps the number of images; negative means no cap
	MaxSamples int

	// KTest is the shortlist size of the fine re-ranking stages
	KTest int

	// TextBatchSize is the number of texts encoded per model call
	TextBatchSize int

	// Workers bounds the goroutines used for independent per-item work
	Workers int
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		MaxSamples:    NoLimit,
		KTest:         DefaultKTest,
		TextBatchSize: DefaultTextBatchSize,
		Workers:       1,
	}
}

func (o Options) validateRetrieval() error {
	if o.KTest <= 0 {
		return fmt.Errorf("%w: k_test must be positive, got %d", blipeval.ErrInvalidOptions, o.KTest)
	}
	if o.TextBatchSize <= 0 {
		return fmt.Errorf("%w: text batch size must be positive, got %d", blipeval.ErrInvalidOptions, o.TextBatchSize)
	}
	return nil
}

// sampleCount returns min(n, MaxSamples)
func (o Options) sampleCount(n int) int {
	if o.MaxSamples < 0 || o.MaxSamples > n {
		return n
	}
	return o.MaxSamples
}

// textCount returns min(n, 5*MaxSamples)
func (o Options) textCount(n int) int {
	if o.MaxSamples < 0 || textsPerImage*o.MaxSamples > n {
		return n
	}
	return textsPerImage * o.MaxSamples
}
