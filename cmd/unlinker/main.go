// Package main defines the unlinker server: a service that issues fresh
// withdrawal wallets, watches an escrow contract for deposits and pays
// out jittered, delayed withdrawals so the funding account and the
// receiving account cannot be linked on chain.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/obscura-labs/unlinker/unlinker/flags"
	"github.com/obscura-labs/unlinker/unlinker/node"
)

var log = logrus.WithField("prefix", "main")

const version = "0.1.0"

var appFlags = []cli.Flag{
	flags.ChainRPCFlag,
	flags.EscrowContractFlag,
	flags.OperatorPrivateKeyFlag,
	flags.HTTPHostFlag,
	flags.HTTPPortFlag,
	flags.QueueDirFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.WideDelayWindowFlag,
	flags.VerbosityFlag,
	flags.LogFormat,
	flags.LogFileName,
}

func startNode(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	unlinker, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	unlinker.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "unlinker"
	app.Usage = "breaks the on-chain link between a funding account and a fresh trading account"
	app.Version = version
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileName.Name)
		if logFileName != "" {
			if err := configurePersistentLogging(logFileName); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

// configurePersistentLogging duplicates log output into a file while
// keeping the stderr stream.
func configurePersistentLogging(logFileName string) error {
	log.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G302
	if err != nil {
		return err
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	log.Info("File logging initialized")
	return nil
}
