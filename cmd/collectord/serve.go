package main

import (
	"context"

	"github.com/sipeed/msgcollector/pkg/api"
	"github.com/sipeed/msgcollector/pkg/app"
	"github.com/sipeed/msgcollector/pkg/bus"
	"github.com/sipeed/msgcollector/pkg/config"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// serve wires the command dispatcher to source and blocks in run until it
// returns. On the way out running collectors are stopped and recorded, and
// their summaries are flushed through the outbox.
func serve(ctx context.Context, cfg *config.Config, platform domain.ChannelType, source domain.EventSource, replier app.Replier, run func(context.Context) error) error {
	outbox := bus.NewOutbox(replier, 0)
	outboxDone := make(chan struct{})
	go func() {
		outbox.Run(ctx)
		close(outboxDone)
	}()
	defer func() {
		outbox.Close()
		<-outboxDone
		logger.DebugCF("collectord", "Outbox drained", outbox.Stats())
	}()

	container, err := app.NewContainer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.WarnCF("collectord", "Shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.API.Addr != "" {
		server := api.NewServer(cfg.API.Addr, cfg.API.APIKey, container.EventBus, container.Collectors.GetStatus)
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer server.Stop()
	}

	dispatcher := app.NewCommandDispatcher(container.Collectors, source, outbox, cfg.Collector.CommandPrefix)
	dispatcher.Attach(ctx)
	defer dispatcher.Detach()

	logger.InfoCF("collectord", "Listening for commands", map[string]interface{}{
		"platform": string(platform),
		"prefix":   cfg.Collector.CommandPrefix,
		"presets":  container.Presets.Count(),
	})

	err = run(ctx)

	logger.InfoCF("collectord", "Shutting down", map[string]interface{}{
		"platform": string(platform),
		"active":   container.Collectors.ActiveCount(),
	})
	return err
}
