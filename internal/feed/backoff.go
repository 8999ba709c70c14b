package feed

import (
	"math"
	"time"
)

// reconnectDelay computes the exponential backoff before reconnect attempt
// n (zero-based): base * 1.5^n, capped at max. The attempt counter is read
// fresh on every failure, never frozen at connect time.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(base) * math.Pow(1.5, float64(attempt)))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
