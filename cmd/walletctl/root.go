package main

import (
	"os"

	"github.com/OKaluzny/wallet-engine/internal/config"
	"github.com/OKaluzny/wallet-engine/internal/engine"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	flagConfig   = "config"
	flagKeystore = "keystore"
	flagChain    = "chain"
	flagDebug    = "debug"
)

// appState is shared by all subcommands.
type appState struct {
	Log    *zap.Logger
	Config config.Config
	Engine *engine.Engine

	configPath string
	keystore   string
	chain      string
	debug      bool
}

func newRootCmd() *cobra.Command {
	a := &appState{}

	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Manage an Ethereum keystore, query balances and send transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.Engine != nil {
				a.Engine.Close()
			}
			if a.Log != nil {
				_ = a.Log.Sync()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, flagConfig, "", "config file (YAML)")
	pf.StringVar(&a.keystore, flagKeystore, "", "keystore directory (default $HOME/.ethereum/keystore)")
	pf.StringVar(&a.chain, flagChain, "", "chain name: mainnet or ropsten")
	pf.BoolVar(&a.debug, flagDebug, false, "enable debug logging")

	rootCmd.AddCommand(
		accountCmd(a),
		balanceCmd(a),
		historyCmd(a),
		sendCmd(a),
	)
	return rootCmd
}

func (a *appState) init(cmd *cobra.Command) error {
	log := newRootLogger(a.debug)
	a.Log = log

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed(flagKeystore) {
		cfg.KeystoreDir = a.keystore
	}
	if cmd.Flags().Changed(flagChain) {
		cfg.Chain = a.chain
	}
	a.Config = cfg

	e, err := engine.New(cfg, log)
	if err != nil {
		return err
	}
	a.Engine = e
	return nil
}

func newRootLogger(debug bool) *zap.Logger {
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core)
}
