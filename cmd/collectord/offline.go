package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sipeed/msgcollector/pkg/channels/presets"
	"github.com/sipeed/msgcollector/pkg/config"
	"github.com/sipeed/msgcollector/pkg/infrastructure/persistence"
)

func newPresetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in and file presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := presets.NewRegistry()
			_, warnings := registry.LoadDirs(opts.cfg.Collector.PresetDirs)
			for _, w := range warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLIMIT\tTIMEOUT\tSOURCE\tDESCRIPTION")
			for _, p := range registry.List() {
				src := p.SourceFile
				if p.Builtin {
					src = "builtin"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", p.Name, p.Limit, p.Timeout, src, p.Description)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <channel-id>",
		Short: "Show recent collections of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Storage.DBPath == "" {
				return fmt.Errorf("history is disabled (storage.db_path is empty)")
			}
			repo, err := persistence.OpenCollectionRepository(opts.cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.FindByChannel(args[0], limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no collections")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPLATFORM\tPRESET\tREASON\tCOUNT\tFINISHED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					r.ID, r.Platform, r.Preset, r.Reason, r.Count(), r.Limit,
					r.FinishedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of collections to show (0 for all)")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to --config",
		// The file may not exist yet; skip loading it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			if err := config.SaveConfig(opts.configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			cfg.Discord.Token = mask(cfg.Discord.Token)
			cfg.Slack.BotToken = mask(cfg.Slack.BotToken)
			cfg.Slack.AppToken = mask(cfg.Slack.AppToken)
			cfg.Telegram.Token = mask(cfg.Telegram.Token)
			cfg.Feishu.AppSecret = mask(cfg.Feishu.AppSecret)
			cfg.Feishu.EncryptKey = mask(cfg.Feishu.EncryptKey)
			cfg.Feishu.VerificationToken = mask(cfg.Feishu.VerificationToken)
			cfg.DingTalk.ClientSecret = mask(cfg.DingTalk.ClientSecret)
			cfg.QQ.AppSecret = mask(cfg.QQ.AppSecret)
			return printYAML(cmd.OutOrStdout(), &cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
