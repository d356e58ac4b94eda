package main

import (
	"github.com/spf13/cobra"

	"github.com/erazemk/stoneshop/internal/config"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logFile    string

	cfg      config.Config
	closeLog func()
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "stoneshop",
		Short:         "Inventory and photo catalogue for a stone shop",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.closeLog != nil {
				opts.closeLog()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (TOML, or YAML by extension; default $"+config.EnvConfigPath+")")
	flags.StringVarP(&opts.dbPath, "db", "d", "", "SQLite database path (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVarP(&opts.logFile, "log", "l", "", "also write logs to this file (overrides config)")

	cmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newUserCmd(opts),
		newGCCmd(opts),
	)
	return cmd
}

// load reads the config file, applies flag overrides and sets up logging.
func (o *globalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log") {
		cfg.Log.File = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.closeLog = closeLog
	return nil
}
