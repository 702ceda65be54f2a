// Package chain abstracts the transport to a single EVM-compatible RPC
// endpoint: the Deposited log subscription feeding the matcher, operator
// withdrawal submission, and native gas pre-funding.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/config/params"
	"github.com/obscura-labs/unlinker/contracts/escrow"
)

var log = logrus.WithField("prefix", "chain")

// ErrTxReverted is returned when a submitted transaction was mined with
// a non-success receipt status. The submission failed; it is never
// swallowed.
var ErrTxReverted = errors.New("transaction mined with failure status")

const gasFundGasLimit = 21000

var (
	depositLogsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_deposit_logs_total",
		Help: "The number of Deposited logs delivered to the matcher.",
	})
	subscriptionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlinker_log_subscription_restarts_total",
		Help: "The number of times the Deposited log subscription was re-established.",
	})
)

// DepositProcessor consumes ingested Deposited events. Delivery is
// at-least-once and in chain order from a single subscription; the
// consumer is responsible for idempotence.
type DepositProcessor interface {
	ProcessDeposit(ctx context.Context, ev *escrow.DepositEvent)
}

// Config holds the chain service dependencies.
type Config struct {
	Endpoint         string
	ContractAddress  common.Address
	OperatorKey      *ecdsa.PrivateKey
	DepositProcessor DepositProcessor
}

// Service owns the RPC connection, the log subscription with its
// reconnect loop, and the operator's single nonce stream. Submissions
// are serialized; the operator account cannot support parallel sends.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *Config
	client       *ethclient.Client
	chainID      *big.Int
	operatorAddr common.Address
	logChan      chan gethTypes.Log
	submitLock   sync.Mutex
	startErr     error
}

// New validates the endpoint and prepares a chain service. The endpoint
// must support subscriptions, so only WebSocket and IPC are accepted.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	if !strings.HasPrefix(cfg.Endpoint, "ws") && !strings.HasPrefix(cfg.Endpoint, "ipc") {
		return nil, errors.Errorf("chain service requires an IPC or WebSocket endpoint, provided %s", cfg.Endpoint)
	}
	if cfg.OperatorKey == nil {
		return nil, errors.New("operator key is required")
	}
	if cfg.DepositProcessor == nil {
		return nil, errors.New("deposit processor is required")
	}
	svcCtx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:          svcCtx,
		cancel:       cancel,
		cfg:          cfg,
		operatorAddr: crypto.PubkeyToAddress(cfg.OperatorKey.PublicKey),
		logChan:      make(chan gethTypes.Log),
	}, nil
}

// OperatorAddress returns the address of the operator's signing key.
func (s *Service) OperatorAddress() common.Address {
	return s.operatorAddr
}

// Start dials the endpoint and begins streaming Deposited logs.
func (s *Service) Start() {
	log.WithFields(logrus.Fields{
		"endpoint": s.cfg.Endpoint,
		"contract": s.cfg.ContractAddress.Hex(),
		"operator": s.operatorAddr.Hex(),
	}).Info("Starting chain service")

	client, err := ethclient.DialContext(s.ctx, s.cfg.Endpoint)
	if err != nil {
		s.startErr = errors.Wrap(err, "could not connect to RPC endpoint")
		log.WithError(err).Error("Could not connect to RPC endpoint")
		return
	}
	s.client = client

	chainID, err := client.ChainID(s.ctx)
	if err != nil {
		s.startErr = errors.Wrap(err, "could not fetch chain id")
		log.WithError(err).Error("Could not fetch chain id")
		return
	}
	s.chainID = chainID

	go s.streamDepositLogs()
}

// Stop terminates the subscription loop and closes the connection.
func (s *Service) Stop() error {
	s.cancel()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// Status returns an error if the service failed to come up.
func (s *Service) Status() error {
	return s.startErr
}

// streamDepositLogs keeps a filter-log subscription on the escrow
// contract alive, re-establishing it after transient disconnects. A
// reconnect may replay recent events; the matcher absorbs duplicates.
func (s *Service) streamDepositLogs() {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.cfg.ContractAddress},
		Topics:    [][]common.Hash{{escrow.DepositedTopic}},
	}
	for {
		if s.ctx.Err() != nil {
			return
		}
		sub, err := s.client.SubscribeFilterLogs(s.ctx, query, s.logChan)
		if err != nil {
			log.WithError(err).Warn("Could not subscribe to Deposited logs, retrying")
			if !s.sleep(params.Config().ReconnectDelay) {
				return
			}
			continue
		}
		if !s.consumeLogs(sub) {
			return
		}
		subscriptionRestarts.Inc()
		if !s.sleep(params.Config().ReconnectDelay) {
			return
		}
	}
}

// consumeLogs drains the subscription until it errors or the service
// stops. It returns false when the service is shutting down.
func (s *Service) consumeLogs(sub ethereum.Subscription) bool {
	defer sub.Unsubscribe()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case err := <-sub.Err():
			log.WithError(err).Warn("Deposited log subscription dropped")
			return true
		case l := <-s.logChan:
			if l.Removed {
				// Reorged-out log; the canonical replacement arrives on its own.
				continue
			}
			ev, err := escrow.UnpackDeposited(l)
			if err != nil {
				log.WithError(err).WithField("tx", l.TxHash.Hex()).Debug("Skipping malformed escrow log")
				continue
			}
			depositLogsCount.Inc()
			s.cfg.DepositProcessor.ProcessDeposit(s.ctx, ev)
		}
	}
}

func (s *Service) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// SubmitWithdrawal sends operatorWithdraw(to, amount, depositId, jobId)
// and waits for its receipt. A mined-but-reverted transaction is
// reported as ErrTxReverted with the transaction hash.
func (s *Service) SubmitWithdrawal(ctx context.Context, to common.Address, amount, depositID *big.Int, jobID [32]byte) (common.Hash, error) {
	data, err := escrow.PackOperatorWithdraw(to, amount, depositID, jobID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not pack operatorWithdraw calldata")
	}

	s.submitLock.Lock()
	defer s.submitLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, params.Config().SubmissionTimeout)
	defer cancel()

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.operatorAddr,
		To:   &s.cfg.ContractAddress,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not estimate withdrawal gas")
	}
	signed, err := s.signAndSend(ctx, &s.cfg.ContractAddress, nil, gas, data)
	if err != nil {
		return common.Hash{}, err
	}

	receipt, err := bind.WaitMined(ctx, s.client, signed)
	if err != nil {
		return signed.Hash(), errors.Wrap(err, "could not await withdrawal receipt")
	}
	if receipt.Status != gethTypes.ReceiptStatusSuccessful {
		return signed.Hash(), ErrTxReverted
	}
	return signed.Hash(), nil
}

// FundGas transfers the configured gas pre-fund amount to the target
// address. The caller treats this as best-effort and does not wait for
// inclusion; the pending nonce keeps later submissions ordered.
func (s *Service) FundGas(ctx context.Context, to common.Address) (common.Hash, error) {
	s.submitLock.Lock()
	defer s.submitLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, params.Config().SubmissionTimeout)
	defer cancel()

	signed, err := s.signAndSend(ctx, &to, params.Config().GasFundWei, gasFundGasLimit, nil)
	if err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// signAndSend builds, signs and broadcasts a legacy transaction from the
// operator account. Callers hold submitLock.
func (s *Service) signAndSend(ctx context.Context, to *common.Address, value *big.Int, gas uint64, data []byte) (*gethTypes.Transaction, error) {
	if s.client == nil || s.chainID == nil {
		return nil, errors.New("chain service is not connected")
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.operatorAddr)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch operator nonce")
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch gas price")
	}
	tx := gethTypes.NewTx(&gethTypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethTypes.SignTx(tx, gethTypes.LatestSignerForChainID(s.chainID), s.cfg.OperatorKey)
	if err != nil {
		return nil, errors.Wrap(err, "could not sign transaction")
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, errors.Wrap(err, "could not broadcast transaction")
	}
	return signed, nil
}
