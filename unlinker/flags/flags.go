// Package flags defines the command-line and environment configuration
// surface of the unlinker node.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// ChainRPCFlag is the WebSocket or IPC endpoint of the EVM node.
	ChainRPCFlag = &cli.StringFlag{
		Name:    "chain-rpc",
		Usage:   "WebSocket or IPC endpoint of an EVM-compatible RPC provider",
		EnvVars: []string{"CHAIN_RPC"},
	}
	// EscrowContractFlag is the deployed escrow contract address.
	EscrowContractFlag = &cli.StringFlag{
		Name:    "escrow-contract",
		Usage:   "Hex address of the deployed escrow contract",
		EnvVars: []string{"ESCROW_CONTRACT_ADDRESS"},
	}
	// OperatorPrivateKeyFlag is the hex-encoded operator signing key. When
	// unset an ephemeral key is generated at boot.
	OperatorPrivateKeyFlag = &cli.StringFlag{
		Name:    "operator-private-key",
		Usage:   "Hex-encoded private key of the escrow operator account",
		EnvVars: []string{"OPERATOR_PRIVATE_KEY"},
	}
	// HTTPHostFlag is the listen host of the session API.
	HTTPHostFlag = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host on which the session API listens",
		Value: "0.0.0.0",
	}
	// HTTPPortFlag is the listen port of the session API.
	HTTPPortFlag = &cli.StringFlag{
		Name:    "http-port",
		Usage:   "Port on which the session API listens",
		Value:   "3000",
		EnvVars: []string{"PORT"},
	}
	// QueueDirFlag is the directory holding the withdrawal queue database.
	QueueDirFlag = &cli.StringFlag{
		Name:    "queue-dir",
		Usage:   "Directory in which the withdrawal job queue database is stored",
		Value:   "./unlinker-data",
		EnvVars: []string{"QUEUE_URL"},
	}
	// MonitoringHostFlag is the listen host of the metrics endpoint.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host on which the /metrics and /healthz endpoints listen",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag is the listen port of the metrics endpoint.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port on which the /metrics and /healthz endpoints listen",
		Value: 8080,
	}
	// WideDelayWindowFlag widens the withdrawal delay window to one
	// minute.
	WideDelayWindowFlag = &cli.BoolFlag{
		Name:  "wide-delay-window",
		Usage: "Sample withdrawal delays from [1s, 60s] instead of [1s, 10s]",
	}
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
)
