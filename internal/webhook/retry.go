package webhook

import "time"

const (
	defaultMaxAttempts  = 3
	defaultDelaySeconds = 15
)

// RetryPolicy controls how a failed delivery is retried. Retries apply only
// to network errors, timeouts, and 5xx-class responses; a 4xx response is a
// permanent rejection.
type RetryPolicy struct {
	MaxAttempts  int  `json:"maxAttempts" yaml:"maxAttempts"`
	DelaySeconds int  `json:"delaySeconds" yaml:"delaySeconds"`
	Exponential  bool `json:"exponential" yaml:"exponential"`
}

// DefaultRetryPolicy returns the stock policy: 3 attempts, 15s fixed delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, DelaySeconds: defaultDelaySeconds}
}

// normalized fills zero fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.DelaySeconds <= 0 {
		p.DelaySeconds = defaultDelaySeconds
	}
	return p
}

// Delay returns how long to wait before the given attempt (1-based; the
// first attempt has no delay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	base := time.Duration(p.DelaySeconds) * time.Second
	if !p.Exponential {
		return base
	}
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
	}
	return d
}
