// Package cli is the airq command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/config"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfgFile  string
	logLevel string
	envFile  string

	cfg    config.Config
	logger *zap.Logger
}

// NewRootCommand builds the airq command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "airq",
		Short: "Next-hour air-quality prediction for one station",
		Long: `airq fetches an hourly pollutant series, engineers time-series features
and trains a dual model: a regressor for the next-hour concentration and a
classifier for guideline violations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./airq.yaml or ./configs/airq.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		a.fetchCommand(),
		a.featuresCommand(),
		a.trainCommand(),
		a.runCommand(),
		a.predictCommand(),
		a.quickCommand(),
		a.checkCommand(),
		a.reportCommand(),
		a.runsCommand(),
		a.serveCommand(),
	)
	return root
}

// Execute runs the command tree and prints a failure to stderr.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return model.ConfigErrorf("logging", "%w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openRegistry opens the configured registry, or returns nil when disabled.
func (a *app) openRegistry(ctx context.Context) (*registry.Registry, error) {
	if a.cfg.Registry.Path == "" {
		return nil, nil
	}
	reg, err := registry.Open(ctx, a.cfg.Registry.Path)
	if err != nil {
		return nil, model.PersistenceErrorf("registry", "%w", err)
	}
	return reg, nil
}

// unit is the display unit of the configured pollutant.
func (a *app) unit() string {
	if info, ok := model.PollutantCatalog[a.cfg.Pollutant()]; ok {
		return info.Unit
	}
	return ""
}
