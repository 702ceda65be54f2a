package chain

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// jobIDSalt namespaces the on-chain job id hash so ids from other
// contexts can never collide with withdrawal jobs.
const jobIDSalt = "obscura/withdrawal-job/"

// JobID32 maps an internal job id to the bytes32 the escrow contract
// uses for replay protection. The mapping is keccak256 over a salted
// encoding: collision-resistant and stable across retries, so the
// contract's jobUsed guard keeps protecting the operator when a
// submission is replayed.
func JobID32(id string) [32]byte {
	return crypto.Keccak256Hash([]byte(jobIDSalt + id))
}
