// Package cmd provides the CLI commands for tree-estimator.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tree-estimator/internal/app"
	"tree-estimator/internal/config"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/logging"
)

// Version is the CLI version
const Version = "0.1.0"

var (
	cfgFile   string
	verbose   bool
	configErr error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tree-estimator",
	Short: "Deterministic quotes for tree-service jobs",
	Long: `tree-estimator computes reproducible cost quotes for tree-service jobs
from effective-dated rate tables.

Examples:
  tree-estimator estimate --miles 15 --minutes 30 --crew climber,groundsman --hours 4 \
      --equipment chipper,stump_grinder --disposal-fee 50 --date 2024-03-15
  tree-estimator reproduce 0b6f3a52-...
  tree-estimator rates supersede --kind labor --name climber --amount 55 --from 2024-06-01`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configErr
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tree-estimator/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tree-estimator", "config.json")
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		configErr = ierrors.Config("failed to load config", err)
		return
	}
	configErr = nil
	config.Set(cfg)

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return
	}
	logging.Sugar.Debugw("config loaded", "path", path, "rate_store", cfg.RateStore.Driver, "result_store", cfg.Storage.Backend)
}

// openDeps opens the rate side, and the result store too when withResults is set
func openDeps(ctx context.Context, withResults bool) (*app.Dependencies, error) {
	cfg := config.Get()
	if withResults {
		return app.Open(ctx, cfg, logging.Named("cli"), nil)
	}
	return app.OpenRates(ctx, cfg, logging.Named("cli"), nil)
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tree-estimator version %s (formula %s)\n",
			Version, config.Get().Calculator.FormulaVersion)
	},
}

var configForce bool

// configCmd manages configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.Get()
		if cfg.Storage.DynamoDB.SecretAccessKey != "" {
			cfg.Storage.DynamoDB.SecretAccessKey = "********"
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath()
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return ierrors.New(ierrors.TypeConfig, "no config path given and no home directory")
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return ierrors.Conflict("config file", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}
