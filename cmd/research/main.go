// Command research runs deep-research queries from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/config"
)

type globalFlags struct {
	configFile string
	verbose    bool
}

var flags globalFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "research",
		Short:         "Plan, execute and synthesize research over a reasoning service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to config file (default: $RESEARCH_CONFIG or config/research.yaml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log progress to stderr")

	root.AddCommand(newRunCmd(), newSessionCmd(), newToolsCmd())
	return root
}

// loadEnv reads configuration and builds a console logger. Logs stay at
// warn unless --verbose is set.
func loadEnv() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if flags.verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
