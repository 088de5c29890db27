package shared

import "time"

// BackoffConfig controls reconnect pacing. The current delay resets to
// Initial after every successful open and doubles, capped at MaxDelay,
// after every failed attempt.
type BackoffConfig struct {
	Initial  time.Duration
	MaxDelay time.Duration
}

func NormalizeBackoff(cfg BackoffConfig) BackoffConfig {
	if cfg.Initial <= 0 {
		cfg.Initial = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.Initial {
		cfg.MaxDelay = cfg.Initial
	}
	return cfg
}

func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
