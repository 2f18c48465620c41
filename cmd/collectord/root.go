package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/msgcollector/pkg/config"
	"github.com/sipeed/msgcollector/pkg/logger"
)

const version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".msgcollector", "config.yaml")
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "collectord",
		Short:         "Collect chat messages posted after a command",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (overrides config)")

	cmd.AddCommand(newDiscordCmd(opts))
	cmd.AddCommand(newSlackCmd(opts))
	cmd.AddCommand(newFeishuCmd(opts))
	cmd.AddCommand(newDingTalkCmd(opts))
	cmd.AddCommand(newQQCmd(opts))
	cmd.AddCommand(newTelegramCmd(opts))
	cmd.AddCommand(newConsoleCmd(opts))
	cmd.AddCommand(newPresetsCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	logger.Init(logger.Level(cfg.Log.Level), cfg.Log.Format)
	o.cfg = cfg
	return nil
}
