package withdraw

import (
	"math/big"
	"testing"
	"time"

	"github.com/obscura-labs/unlinker/config/params"
	"github.com/obscura-labs/unlinker/crypto/rand"
	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
)

func TestNormalizeAmount_StaysInsideWindow(t *testing.T) {
	rnd := rand.NewGenerator()
	amount := big.NewInt(1000000000)
	// -30 ppm and +40 ppm of 1e9.
	lo := big.NewInt(999970000)
	hi := big.NewInt(1000040000)

	for i := 0; i < 500; i++ {
		normalized, err := normalizeAmount(amount, rnd)
		require.NoError(t, err)
		if normalized.Cmp(lo) < 0 || normalized.Cmp(hi) > 0 {
			t.Fatalf("normalized amount %s outside [%s, %s]", normalized, lo, hi)
		}
	}
}

func TestNormalizeAmount_TinyAmountsSurviveJitter(t *testing.T) {
	rnd := rand.NewGenerator()
	// The ppm correction on a one-unit amount truncates to zero, so the
	// output is always exactly one unit.
	for i := 0; i < 200; i++ {
		normalized, err := normalizeAmount(big.NewInt(1), rnd)
		require.NoError(t, err)
		assert.Equal(t, int64(1), normalized.Int64())
	}
}

func TestNormalizeAmount_IntegerTruncation(t *testing.T) {
	cfg := params.Config().Copy()
	cfg.JitterPpmMin = -30
	cfg.JitterPpmMax = -30
	params.OverrideConfig(cfg)
	defer params.OverrideConfig(params.DefaultConfig())

	rnd := rand.NewGenerator()
	// -30 ppm of 100_001 is -3.00003; truncation keeps the result at
	// 100_001 - 3.
	normalized, err := normalizeAmount(big.NewInt(100001), rnd)
	require.NoError(t, err)
	assert.Equal(t, int64(99998), normalized.Int64())
}

func TestSampleDelay_WithinConfiguredWindow(t *testing.T) {
	rnd := rand.NewGenerator()
	for i := 0; i < 500; i++ {
		d := sampleDelay(rnd)
		if d < time.Second || d > 10*time.Second {
			t.Fatalf("delay %s outside [1s, 10s]", d)
		}
	}
}

func TestSampleRetryDelay_WithinConfiguredWindow(t *testing.T) {
	rnd := rand.NewGenerator()
	for i := 0; i < 500; i++ {
		d := sampleRetryDelay(rnd)
		if d < 30*time.Second || d > 120*time.Second {
			t.Fatalf("retry delay %s outside [30s, 120s]", d)
		}
	}
}

func TestSampleDelay_WideWindowOverride(t *testing.T) {
	params.UseWideDelayWindow()
	defer params.OverrideConfig(params.DefaultConfig())

	rnd := rand.NewGenerator()
	for i := 0; i < 500; i++ {
		d := sampleDelay(rnd)
		if d < time.Second || d > 60*time.Second {
			t.Fatalf("delay %s outside widened [1s, 60s]", d)
		}
	}
}
