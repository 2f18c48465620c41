package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/msgcollector/pkg/channels/console"
	"github.com/sipeed/msgcollector/pkg/channels/dingtalk"
	"github.com/sipeed/msgcollector/pkg/channels/discord"
	"github.com/sipeed/msgcollector/pkg/channels/feishu"
	"github.com/sipeed/msgcollector/pkg/channels/qq"
	"github.com/sipeed/msgcollector/pkg/channels/slack"
	"github.com/sipeed/msgcollector/pkg/channels/telegram"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

func newDiscordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discord",
		Short: "Run as a Discord bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := discord.NewSession(opts.cfg.Discord.Token)
			if err != nil {
				return err
			}
			source := discord.NewSource(session)
			replier := discord.NewReplier(session)

			return serve(cmd.Context(), opts.cfg, domain.ChannelDiscord, source, replier, func(ctx context.Context) error {
				if err := session.Open(); err != nil {
					return fmt.Errorf("open discord gateway: %w", err)
				}
				defer session.Close()
				logger.InfoC("discord", "Gateway connected")
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newSlackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slack",
		Short: "Run as a Slack app over Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.cfg.Slack
			api, client, err := slack.NewClients(c.BotToken, c.AppToken, c.Debug)
			if err != nil {
				return err
			}
			source := slack.NewSource()
			replier := slack.NewReplier(api)

			return serve(cmd.Context(), opts.cfg, domain.ChannelSlack, source, replier, func(ctx context.Context) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				errCh := make(chan error, 1)
				go func() {
					errCh <- client.RunContext(ctx)
					cancel()
				}()

				source.Pump(ctx, client.Events, client)
				cancel()
				if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("slack socket mode: %w", err)
				}
				return nil
			})
		},
	}
}

func newTelegramCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run as a Telegram bot with long polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := telegram.NewBot(opts.cfg.Telegram.Token)
			if err != nil {
				return err
			}
			source := telegram.NewSource()
			replier := telegram.NewReplier(bot)

			return serve(cmd.Context(), opts.cfg, domain.ChannelTelegram, source, replier, func(ctx context.Context) error {
				updates, err := bot.UpdatesViaLongPolling(ctx, nil)
				if err != nil {
					return fmt.Errorf("start long polling: %w", err)
				}
				source.Pump(ctx, updates)
				return nil
			})
		},
	}
}

func newFeishuCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feishu",
		Short: "Run as a Feishu (Lark) app over the long connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.cfg.Feishu
			client, err := feishu.NewClient(c.AppID, c.AppSecret)
			if err != nil {
				return err
			}
			source := feishu.NewSource()
			replier := feishu.NewReplier(client)
			ws := feishu.NewWSClient(c.AppID, c.AppSecret, c.VerificationToken, c.EncryptKey, source)

			return serve(cmd.Context(), opts.cfg, domain.ChannelFeishu, source, replier, func(ctx context.Context) error {
				errCh := make(chan error, 1)
				go func() { errCh <- ws.Start(ctx) }()
				select {
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					if err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("feishu long connection: %w", err)
					}
					return nil
				}
			})
		},
	}
}

func newDingTalkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dingtalk",
		Short: "Run as a DingTalk chatbot over Stream Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.cfg.DingTalk
			source := dingtalk.NewSource()
			client, err := dingtalk.NewStreamClient(c.ClientID, c.ClientSecret, source)
			if err != nil {
				return err
			}
			replier := dingtalk.NewReplier(source)

			return serve(cmd.Context(), opts.cfg, domain.ChannelDingTalk, source, replier, func(ctx context.Context) error {
				if err := client.Start(ctx); err != nil {
					return fmt.Errorf("dingtalk stream: %w", err)
				}
				defer client.Close()
				logger.InfoC("dingtalk", "Stream connected")
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newQQCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "qq",
		Short: "Run as a QQ bot (direct messages and group mentions)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.cfg.QQ
			bot, err := qq.NewBot(cmd.Context(), c.AppID, c.AppSecret, c.Sandbox)
			if err != nil {
				return err
			}
			source := qq.NewSource()
			replier := qq.NewReplier(bot.API, source)

			return serve(cmd.Context(), opts.cfg, domain.ChannelQQ, source, replier, func(ctx context.Context) error {
				return bot.Run(ctx, source)
			})
		},
	}
}

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	var author string
	var historyFile string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Type messages locally; \"name: text\" posts as another author",
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyFile != "" {
				if err := os.MkdirAll(filepath.Dir(historyFile), 0755); err != nil {
					return fmt.Errorf("create history dir: %w", err)
				}
			}
			source := console.NewSource(author, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Type %scollect to start. Ctrl-D exits.\n", opts.cfg.Collector.CommandPrefix)
			return serve(cmd.Context(), opts.cfg, domain.ChannelConsole, source, source, func(ctx context.Context) error {
				return source.Run(ctx, historyFile)
			})
		},
	}

	home, _ := os.UserHomeDir()
	cmd.Flags().StringVar(&author, "author", "you", "Author name for lines without a \"name:\" prefix")
	cmd.Flags().StringVar(&historyFile, "history-file", filepath.Join(home, ".msgcollector", "console_history"), "Readline history file")
	return cmd
}
