// Package node assembles the unlinker process: it validates
// configuration, builds every component and manages their lifecycle
// through a service registry.
package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/obscura-labs/unlinker/config/params"
	"github.com/obscura-labs/unlinker/monitoring/prometheus"
	"github.com/obscura-labs/unlinker/runtime"
	"github.com/obscura-labs/unlinker/unlinker/chain"
	"github.com/obscura-labs/unlinker/unlinker/enclave"
	"github.com/obscura-labs/unlinker/unlinker/flags"
	"github.com/obscura-labs/unlinker/unlinker/jobs"
	"github.com/obscura-labs/unlinker/unlinker/matcher"
	"github.com/obscura-labs/unlinker/unlinker/server"
	"github.com/obscura-labs/unlinker/unlinker/session"
	"github.com/obscura-labs/unlinker/unlinker/withdraw"
)

var log = logrus.WithField("prefix", "node")

// UnlinkerNode handles the lifecycle of the entire system and registers
// services to a service registry.
type UnlinkerNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	queue    *jobs.BoltQueue
	stop     chan struct{} // Channel to wait for termination notifications.
}

// New creates a node instance, sets up configuration options and
// registers every required service.
func New(cliCtx *cli.Context) (*UnlinkerNode, error) {
	logrus.AddHook(prometheus.NewLogrusCollector())

	if cliCtx.Bool(flags.WideDelayWindowFlag.Name) {
		params.UseWideDelayWindow()
	}

	endpoint := cliCtx.String(flags.ChainRPCFlag.Name)
	if endpoint == "" {
		return nil, errors.New("chain-rpc is required")
	}
	contractHex := cliCtx.String(flags.EscrowContractFlag.Name)
	if !common.IsHexAddress(contractHex) {
		return nil, errors.Errorf("escrow-contract must be a hex address, provided %q", contractHex)
	}
	operatorKey, err := loadOperatorKey(cliCtx.String(flags.OperatorPrivateKeyFlag.Name))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &UnlinkerNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	store := session.NewStore()
	table := jobs.NewTable()
	enc := enclave.New()

	queue, err := jobs.NewBoltQueue(cliCtx.String(flags.QueueDirFlag.Name))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not open withdrawal queue")
	}
	node.queue = queue
	log.WithField("path", queue.DatabasePath()).Info("Opened withdrawal queue")

	scheduler := withdraw.NewScheduler(store, table, queue)
	matcherSvc, err := matcher.New(store, scheduler)
	if err != nil {
		cancel()
		return nil, err
	}
	chainSvc, err := chain.New(ctx, &chain.Config{
		Endpoint:         endpoint,
		ContractAddress:  common.HexToAddress(contractHex),
		OperatorKey:      operatorKey,
		DepositProcessor: matcherSvc,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := node.services.RegisterService(chainSvc); err != nil {
		cancel()
		return nil, err
	}

	processor := withdraw.NewProcessor(ctx, store, table, queue, chainSvc)
	if err := node.services.RegisterService(processor); err != nil {
		cancel()
		return nil, err
	}

	apiSvc := server.New(ctx, &server.Config{
		Host:      cliCtx.String(flags.HTTPHostFlag.Name),
		Port:      cliCtx.String(flags.HTTPPortFlag.Name),
		Store:     store,
		Enclave:   enc,
		GasFunder: chainSvc,
	})
	if err := node.services.RegisterService(apiSvc); err != nil {
		cancel()
		return nil, err
	}

	monitoringAddr := fmt.Sprintf("%s:%d",
		cliCtx.String(flags.MonitoringHostFlag.Name),
		cliCtx.Int(flags.MonitoringPortFlag.Name),
	)
	if err := node.services.RegisterService(prometheus.NewService(monitoringAddr, node.services)); err != nil {
		cancel()
		return nil, err
	}

	return node, nil
}

// loadOperatorKey parses the configured operator key. With no key
// configured, or an unparseable one, a fresh key is generated; such an
// operator cannot move escrowed funds until the generated address is
// authorized on the contract, so the address is logged prominently.
func loadOperatorKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err == nil {
			return key, nil
		}
		log.WithError(err).Warn("Could not parse configured operator key, falling back to an ephemeral one")
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "could not generate ephemeral operator key")
	}
	log.WithField("address", crypto.PubkeyToAddress(key.PublicKey).Hex()).
		Warn("Using an ephemeral operator key")
	return key, nil
}

// Start the unlinker and kick off every registered service.
func (n *UnlinkerNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the unlinker node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *UnlinkerNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping unlinker node")
	n.services.StopAll()
	if err := n.queue.Close(); err != nil {
		log.WithError(err).Error("Could not close withdrawal queue")
	}
	n.cancel()
	close(n.stop)
}
