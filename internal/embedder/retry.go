package embedder

import (
	"context"
	"time"
)

// Retry configuration defaults.
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff for remote providers.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns sensible defaults for API retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff executes fn with exponential backoff. Retry is skipped on
// context cancellation.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}

// Retrying decorates an Embedder with backoff retry on Embed/EmbedBatch.
type Retrying struct {
	inner  Embedder
	config RetryConfig
}

// NewRetrying wraps inner with the given retry configuration.
func NewRetrying(inner Embedder, config RetryConfig) *Retrying {
	if config.MaxRetries <= 0 {
		config = DefaultRetryConfig()
	}
	return &Retrying{inner: inner, config: config}
}

func (r *Retrying) Dimensions() int { return r.inner.Dimensions() }
func (r *Retrying) Model() string   { return r.inner.Model() }

func (r *Retrying) Initialize(ctx context.Context) error {
	_, err := retryWithBackoff(ctx, r.config, func() (struct{}, error) {
		return struct{}{}, r.inner.Initialize(ctx)
	})
	return err
}

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	return retryWithBackoff(ctx, r.config, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return retryWithBackoff(ctx, r.config, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

func (r *Retrying) Dispose() error { return r.inner.Dispose() }
