// Package server exposes the public HTTP surface: session creation,
// session status and wallet claim, plus a liveness endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	leakybucket "github.com/kevinms/leakybucket-go"
	"github.com/sirupsen/logrus"

	"github.com/obscura-labs/unlinker/unlinker/enclave"
	"github.com/obscura-labs/unlinker/unlinker/session"
)

var log = logrus.WithField("prefix", "server")

// Session creations allowed per client address per second, and the burst
// each bucket can absorb.
const (
	createRatePerSecond = 1
	createBurst         = 5
)

// GasFunder pre-funds a fresh address with native gas money. chain.Service
// is the production implementation; the call is best effort.
type GasFunder interface {
	FundGas(ctx context.Context, to common.Address) (common.Hash, error)
}

// Config options for the HTTP server.
type Config struct {
	Host      string
	Port      string
	Store     *session.Store
	Enclave   *enclave.Enclave
	GasFunder GasFunder
}

// Service defines the HTTP server serving the session API.
type Service struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         *Config
	server      *http.Server
	createLimit *leakybucket.Collector
	startErr    error
}

// New instantiates a server with its routes registered.
func New(ctx context.Context, cfg *Config) *Service {
	svcCtx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:         svcCtx,
		cancel:      cancel,
		cfg:         cfg,
		createLimit: leakybucket.NewCollector(createRatePerSecond, createBurst, true /* deleteEmptyBuckets */),
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/request-wallet", s.RequestWallet).Methods(http.MethodPost)
	router.HandleFunc("/api/status", s.SessionStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/claim-wallet", s.ClaimWallet).Methods(http.MethodGet)
	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start the HTTP server and listen on the configured address.
func (s *Service) Start() {
	go func() {
		log.WithField("address", s.server.Addr).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.startErr = err
			log.WithError(err).Error("Could not listen and serve")
		}
	}()
}

// Stop the HTTP server, draining in-flight requests.
func (s *Service) Stop() error {
	defer s.cancel()
	shutdownCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Status returns an error if the listener failed.
func (s *Service) Status() error {
	return s.startErr
}
