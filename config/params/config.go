// Package params defines the tunable constants of the unlinker: jitter
// windows, scheduling periods, retry backoff and the gas pre-fund amount.
package params

import (
	"math/big"
	"time"
)

// UnlinkerConfig contains the operational parameters of the session and
// withdrawal engine. Amounts are smallest-unit integers; the monetary
// path never leaves integer arithmetic.
type UnlinkerConfig struct {
	// TickPeriod is the batch processor period. Only one tick may be in
	// flight at a time; overlapping ticks are skipped.
	TickPeriod time.Duration
	// JitterPpmMin and JitterPpmMax bound the amount perturbation in
	// parts-per-million, both ends inclusive.
	JitterPpmMin int64
	JitterPpmMax int64
	// DelayMinSeconds and DelayMaxSeconds bound the withdrawal delay
	// sampled at job creation, both ends inclusive.
	DelayMinSeconds int64
	DelayMaxSeconds int64
	// RetryMinSeconds and RetryMaxSeconds bound the backoff applied to a
	// failed withdrawal submission.
	RetryMinSeconds int64
	RetryMaxSeconds int64
	// ToleranceDivisor sets the deposit matching window as a fraction of
	// the expected amount: tolerance = max(1, expected/ToleranceDivisor).
	ToleranceDivisor int64
	// GasFundWei is the fixed native-token amount sent to every fresh
	// address so it can move funds later.
	GasFundWei *big.Int
	// SubmissionTimeout bounds a single withdrawal or gas-fund
	// transaction, including the receipt wait.
	SubmissionTimeout time.Duration
	// ReconnectDelay is the pause before re-establishing a dropped log
	// subscription.
	ReconnectDelay time.Duration
	// SeenEventCacheSize bounds the matcher's replay dedup cache.
	SeenEventCacheSize int
}

var unlinkerConfig = DefaultConfig()

// Config retrieves the current unlinker configuration.
func Config() *UnlinkerConfig {
	return unlinkerConfig
}

// OverrideConfig replaces the active config. The preferred pattern is to
// call Config(), change the specific parameters, and then call
// OverrideConfig(c).
func OverrideConfig(c *UnlinkerConfig) {
	unlinkerConfig = c
}

// Copy returns a copy of the config object.
func (c *UnlinkerConfig) Copy() *UnlinkerConfig {
	config := *c
	config.GasFundWei = new(big.Int).Set(c.GasFundWei)
	return &config
}

// DefaultConfig returns the reference parameters: a 10 second tick,
// a [-30, +40] ppm amount window, a [1 s, 10 s] delay window and a
// 0.01 native-unit gas pre-fund.
func DefaultConfig() *UnlinkerConfig {
	return &UnlinkerConfig{
		TickPeriod:         10 * time.Second,
		JitterPpmMin:       -30,
		JitterPpmMax:       40,
		DelayMinSeconds:    1,
		DelayMaxSeconds:    10,
		RetryMinSeconds:    30,
		RetryMaxSeconds:    120,
		ToleranceDivisor:   10000,
		GasFundWei:         big.NewInt(10000000000000000), // 0.01 * 1e18
		SubmissionTimeout:  90 * time.Second,
		ReconnectDelay:     5 * time.Second,
		SeenEventCacheSize: 1024,
	}
}

// UseWideDelayWindow widens the withdrawal delay window to [1 s, 60 s],
// trading responsiveness for a larger scheduling spread.
func UseWideDelayWindow() {
	c := Config().Copy()
	c.DelayMaxSeconds = 60
	OverrideConfig(c)
}
