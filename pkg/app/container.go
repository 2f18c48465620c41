// Package app provides application services that orchestrate collectors.
// These services sit between the platform adapters / CLI and the collector,
// coordinating defaults, presets, history and lifecycle events.
package app

import (
	"fmt"

	"github.com/sipeed/msgcollector/pkg/channels/presets"
	"github.com/sipeed/msgcollector/pkg/collector"
	"github.com/sipeed/msgcollector/pkg/config"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
	"github.com/sipeed/msgcollector/pkg/infrastructure/persistence"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// ---------------------------------------------------------------------------
// Application container: dependency injection root
// ---------------------------------------------------------------------------

// Container holds all application services and their dependencies.
type Container struct {
	// Lifecycle events (collector.started / collector.finished)
	EventBus domain.EventBus

	// History store; nil when disabled
	Records *persistence.CollectionRepository

	Presets    *presets.Registry
	Collectors *CollectorService
	Config     *config.Config
}

// NewContainer wires the application from configuration.
func NewContainer(cfg *config.Config) (*Container, error) {
	bus := eventbus.New()

	registry := presets.NewRegistry()
	n, warnings := registry.LoadDirs(cfg.Collector.PresetDirs)
	for _, w := range warnings {
		logger.WarnCF("app", "Preset not loaded", map[string]interface{}{"error": w})
	}
	logger.DebugCF("app", "Presets loaded", map[string]interface{}{
		"from_files": n,
		"total":      registry.Count(),
	})

	var records *persistence.CollectionRepository
	var repo domain.CollectionRepository
	if cfg.Storage.DBPath != "" {
		r, err := persistence.OpenCollectionRepository(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		records, repo = r, r
	}

	service := NewCollectorService(bus, repo, registry, ServiceOptions{
		Defaults: collector.Options{
			Limit:   cfg.Collector.DefaultLimit,
			Timeout: cfg.Collector.DefaultTimeout,
		},
		MaxTimeout: cfg.Collector.MaxTimeout,
	})

	bus.SubscribeAll(func(e domain.Event) {
		logger.DebugCF("events", "Domain event", map[string]interface{}{
			"type":         string(e.EventType()),
			"aggregate_id": e.AggregateID().String(),
		})
	})

	return &Container{
		EventBus:   bus,
		Records:    records,
		Presets:    registry,
		Collectors: service,
		Config:     cfg,
	}, nil
}

// Close stops running collectors and releases storage.
func (c *Container) Close() error {
	c.Collectors.StopAll()
	c.EventBus.Close()
	if c.Records != nil {
		return c.Records.Close()
	}
	return nil
}
