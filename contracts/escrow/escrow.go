// Package escrow binds the on-chain escrow pool contract: the shared
// custody that many depositors pay into and that only the operator can
// drain. The core consumes Deposited logs and submits operatorWithdraw
// calls; amounts on the two legs differ by design.
package escrow

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ABIJSON is the externally observable surface of the escrow contract.
const ABIJSON = `[
	{"type":"function","name":"deposit","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"operatorWithdraw","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"depositId","type":"uint256"},{"name":"jobId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"event","name":"Deposited","inputs":[{"name":"from","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"depositId","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"Withdrawn","inputs":[{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"depositId","type":"uint256","indexed":true},{"name":"jobId","type":"bytes32","indexed":false}],"anonymous":false}
]`

// ContractABI is the parsed escrow ABI.
var ContractABI abi.ABI

// DepositedTopic is the topic hash of Deposited(address,uint256,uint256).
var DepositedTopic common.Hash

// WithdrawnTopic is the topic hash of Withdrawn(address,uint256,uint256,bytes32).
var WithdrawnTopic common.Hash

func init() {
	parsed, err := abi.JSON(strings.NewReader(ABIJSON))
	if err != nil {
		panic(err)
	}
	ContractABI = parsed
	DepositedTopic = ContractABI.Events["Deposited"].ID
	WithdrawnTopic = ContractABI.Events["Withdrawn"].ID
}

// DepositEvent is one ingested Deposited log. It drives matcher state
// changes and nothing else; the core does not own deposit records.
type DepositEvent struct {
	From        common.Address
	Amount      *big.Int
	DepositID   *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}

// UnpackDeposited decodes a Deposited log into a DepositEvent.
func UnpackDeposited(l types.Log) (*DepositEvent, error) {
	if len(l.Topics) < 2 || l.Topics[0] != DepositedTopic {
		return nil, errors.New("log is not a Deposited event")
	}
	vals, err := ContractABI.Unpack("Deposited", l.Data)
	if err != nil {
		return nil, errors.Wrap(err, "could not unpack Deposited log data")
	}
	if len(vals) != 2 {
		return nil, errors.Errorf("Deposited log carries %d values, want 2", len(vals))
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.New("Deposited amount is not uint256")
	}
	depositID, ok := vals[1].(*big.Int)
	if !ok {
		return nil, errors.New("Deposited depositId is not uint256")
	}
	return &DepositEvent{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		Amount:      amount,
		DepositID:   depositID,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
	}, nil
}

// PackOperatorWithdraw builds the calldata for
// operatorWithdraw(to, amount, depositId, jobId). The bytes32 jobId is
// the contract's replay guard; retries must reuse the same value.
func PackOperatorWithdraw(to common.Address, amount, depositID *big.Int, jobID [32]byte) ([]byte, error) {
	return ContractABI.Pack("operatorWithdraw", to, amount, depositID, jobID)
}

// PackDeposit builds the calldata for deposit(amount).
func PackDeposit(amount *big.Int) ([]byte, error) {
	return ContractABI.Pack("deposit", amount)
}
