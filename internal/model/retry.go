package model

import "time"

// RetryConfig defines retry behavior for remote requests.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" mapstructure:"backoff_initial"`
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"backoff_max"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  750 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the wait before retry number attempt (0-based). Delays never
// decrease as attempt grows.
func (c RetryConfig) Delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= factor
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}
