// Package withdraw contains the withdrawal engine: jittered job creation
// and the periodic batch processor that submits queued withdrawals.
package withdraw

import (
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/obscura-labs/unlinker/config/params"
)

const ppmDenominator = 1000000

// ErrDustAmount is returned when jitter would push an amount below one
// smallest unit. The session carrying such an amount cannot proceed.
var ErrDustAmount = errors.New("normalized amount is below one smallest unit")

// normalizeAmount perturbs a deposit amount by a uniformly sampled
// parts-per-million factor from the configured window. All arithmetic is
// integer; the correction term truncates toward zero. The result must be
// at least one smallest unit.
func normalizeAmount(amount *big.Int, rnd *mrand.Rand) (*big.Int, error) {
	cfg := params.Config()
	ppm := sampleInclusive(rnd, cfg.JitterPpmMin, cfg.JitterPpmMax)
	correction := new(big.Int).Mul(amount, big.NewInt(ppm))
	correction.Quo(correction, big.NewInt(ppmDenominator))
	normalized := new(big.Int).Add(amount, correction)
	if normalized.Cmp(big.NewInt(1)) < 0 {
		return nil, errors.Wrapf(ErrDustAmount, "amount %s with %d ppm jitter", amount, ppm)
	}
	return normalized, nil
}

// sampleDelay returns the withdrawal delay applied at job creation,
// uniform over the configured window.
func sampleDelay(rnd *mrand.Rand) time.Duration {
	cfg := params.Config()
	return time.Duration(sampleInclusive(rnd, cfg.DelayMinSeconds, cfg.DelayMaxSeconds)) * time.Second
}

// sampleRetryDelay returns the backoff applied to a failed submission.
func sampleRetryDelay(rnd *mrand.Rand) time.Duration {
	cfg := params.Config()
	return time.Duration(sampleInclusive(rnd, cfg.RetryMinSeconds, cfg.RetryMaxSeconds)) * time.Second
}

// sampleInclusive draws a uniform integer from [min, max].
func sampleInclusive(rnd *mrand.Rand, min, max int64) int64 {
	if min >= max {
		return min
	}
	return min + rnd.Int63n(max-min+1)
}
