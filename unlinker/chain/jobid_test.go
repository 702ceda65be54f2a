package chain

import (
	"testing"

	"github.com/obscura-labs/unlinker/testing/assert"
	"github.com/obscura-labs/unlinker/testing/require"
)

func TestJobID32_StableAcrossRetries(t *testing.T) {
	first := JobID32("job-abc")
	second := JobID32("job-abc")
	require.DeepEqual(t, first, second, "the replay guard only works if retries reuse the same bytes32")
}

func TestJobID32_DistinctIds(t *testing.T) {
	a := JobID32("job-a")
	b := JobID32("job-b")
	assert.NotEqual(t, a, b)

	var zero [32]byte
	assert.NotEqual(t, zero, a)
}
