package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	configPath string
	chainID    uint64
	token      string
	logLevel   string
}

func main() {
	var flags globalFlags
	rootCmd := &cobra.Command{
		Use:           "zkpool",
		Short:         "Client for shielded token pools",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "zkpool.yaml", "configuration file")
	rootCmd.PersistentFlags().Uint64Var(&flags.chainID, "chain", 0, "chain id (defaults to the first configured chain)")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", "eth", "pool token symbol")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level, overrides the configuration")

	rootCmd.AddCommand(
		keygenCmd(),
		setupCmd(&flags),
		eventsCmd(&flags),
		treeCmd(&flags),
		balanceCmd(&flags),
		depositCmd(&flags),
		withdrawCmd(&flags),
		transferCmd(&flags),
		relayerCmd(&flags),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to the defaults when
// it does not exist, and builds the logger.
func loadConfig(flags *globalFlags) (*config.Config, zerolog.Logger, error) {
	cfg := config.Default()
	if _, err := os.Stat(flags.configPath); err == nil {
		if cfg, err = config.Load(flags.configPath); err != nil {
			return nil, zerolog.Nop(), err
		}
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	log, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
