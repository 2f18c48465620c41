package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/msgcollector/pkg/channels/presets"
	"github.com/sipeed/msgcollector/pkg/collector"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

var (
	ErrUnknownPreset   = errors.New("unknown preset")
	ErrHistoryDisabled = errors.New("collection history is disabled")
)

// CollectorEventData is the payload of collector lifecycle events.
type CollectorEventData struct {
	CollectorID string `json:"collector_id"`
	Platform    string `json:"platform"`
	ChannelID   string `json:"channel_id"`
	Preset      string `json:"preset,omitempty"`
	Limit       int    `json:"limit"`
	Reason      string `json:"reason,omitempty"`
	Collected   int    `json:"collected,omitempty"`
}

// ServiceOptions tunes defaults applied to collectors started by the service.
type ServiceOptions struct {
	// Defaults fill in zero Limit / Timeout values of requests.
	Defaults collector.Options
	// MaxTimeout caps requested timeouts. Zero means no cap.
	MaxTimeout time.Duration
}

// CollectorService starts collectors, tracks the running ones, and records
// what they collected.
type CollectorService struct {
	eventBus domain.EventBus
	records  domain.CollectionRepository
	presets  *presets.Registry
	opts     ServiceOptions

	mu     sync.RWMutex
	active map[string]*tracked
}

type tracked struct {
	c      *collector.Collector
	preset string
}

// NewCollectorService creates a service. eventBus and records may be nil.
func NewCollectorService(eventBus domain.EventBus, records domain.CollectionRepository, registry *presets.Registry, opts ServiceOptions) *CollectorService {
	if registry == nil {
		registry = presets.NewRegistry()
	}
	return &CollectorService{
		eventBus: eventBus,
		records:  records,
		presets:  registry,
		opts:     opts,
		active:   make(map[string]*tracked),
	}
}

// Presets returns the preset registry.
func (s *CollectorService) Presets() *presets.Registry { return s.presets }

// Start creates a collector on source for messages following trigger.
// Zero Limit or Timeout in opts take the service defaults.
func (s *CollectorService) Start(source domain.EventSource, trigger domain.Message, filter collector.Filter, opts collector.Options) (*collector.Collector, error) {
	return s.start(source, trigger, filter, opts, "")
}

// StartPreset starts a collector configured by the named preset.
func (s *CollectorService) StartPreset(source domain.EventSource, trigger domain.Message, name string) (*collector.Collector, error) {
	p, ok := s.presets.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return s.start(source, trigger, p.Filter(), p.Options(), p.Name)
}

// Collect starts a collector and blocks until it finishes. If ctx ends
// first the collector is stopped and its partial result is returned along
// with ctx.Err().
func (s *CollectorService) Collect(ctx context.Context, source domain.EventSource, trigger domain.Message, filter collector.Filter, opts collector.Options) (*collector.Result, error) {
	c, err := s.Start(source, trigger, filter, opts)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.Done():
		res, _ := c.Result()
		return res, nil
	case <-ctx.Done():
		c.Stop()
		res, _ := c.Result()
		return res, ctx.Err()
	}
}

func (s *CollectorService) start(source domain.EventSource, trigger domain.Message, filter collector.Filter, opts collector.Options, preset string) (*collector.Collector, error) {
	opts = s.applyDefaults(opts)

	c, err := collector.New(source, trigger, filter, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[c.ID()] = &tracked{c: c, preset: preset}
	s.mu.Unlock()

	s.publish(domain.EventCollectorStarted, c.ID(), CollectorEventData{
		CollectorID: c.ID(),
		Platform:    string(trigger.Platform),
		ChannelID:   trigger.ChannelID,
		Preset:      preset,
		Limit:       c.Config().Limit(),
	})

	c.OnFinished(func(res *collector.Result) {
		s.finished(res, preset)
	})

	logger.InfoCF("collector", "Collector started", map[string]interface{}{
		"collector_id": c.ID(),
		"channel_id":   trigger.ChannelID,
		"preset":       preset,
		"limit":        c.Config().Limit(),
		"timeout":      c.Config().Timeout().String(),
	})
	return c, nil
}

func (s *CollectorService) applyDefaults(opts collector.Options) collector.Options {
	if opts.Limit == 0 && s.opts.Defaults.Limit > 0 {
		opts.Limit = s.opts.Defaults.Limit
	}
	if opts.Timeout == 0 {
		opts.Timeout = s.opts.Defaults.Timeout
	}
	if s.opts.MaxTimeout > 0 && opts.Timeout > s.opts.MaxTimeout {
		logger.DebugCF("collector", "Timeout capped", map[string]interface{}{
			"requested": opts.Timeout.String(),
			"max":       s.opts.MaxTimeout.String(),
		})
		opts.Timeout = s.opts.MaxTimeout
	}
	return opts
}

// finished records res. The collector stays in active until then so
// stopWhere can find it and wait for the record.
func (s *CollectorService) finished(res *collector.Result, preset string) {
	logger.InfoCF("collector", "Collector finished", map[string]interface{}{
		"collector_id":  res.CollectorID,
		"channel_id":    res.Trigger.ChannelID,
		"reason":        string(res.Reason),
		"collected":     res.Len(),
		"filter_errors": res.FilterErrors,
	})

	if s.records != nil {
		if err := s.records.Save(recordFromResult(res, preset)); err != nil {
			logger.ErrorCF("collector", "Failed to save collection record", map[string]interface{}{
				"collector_id": res.CollectorID,
				"error":        err.Error(),
			})
		}
	}

	s.publish(domain.EventCollectorFinished, res.CollectorID, CollectorEventData{
		CollectorID: res.CollectorID,
		Platform:    string(res.Trigger.Platform),
		ChannelID:   res.Trigger.ChannelID,
		Preset:      preset,
		Limit:       res.Limit,
		Reason:      string(res.Reason),
		Collected:   res.Len(),
	})

	s.mu.Lock()
	delete(s.active, res.CollectorID)
	s.mu.Unlock()
}

func (s *CollectorService) publish(eventType domain.EventType, id string, data CollectorEventData) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(domain.NewEvent(eventType, domain.EntityID(id), data))
}

func recordFromResult(res *collector.Result, preset string) *domain.CollectionRecord {
	return &domain.CollectionRecord{
		ID:         domain.EntityID(res.CollectorID),
		Platform:   res.Trigger.Platform,
		ChannelID:  res.Trigger.ChannelID,
		TriggerID:  res.Trigger.ID,
		Preset:     preset,
		Reason:     string(res.Reason),
		Limit:      res.Limit,
		Timeout:    res.Timeout,
		MessageIDs: res.Messages.IDs(),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

// ActiveCount returns the number of running collectors.
func (s *CollectorService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// StopChannel stops every running collector of channelID and returns how
// many were stopped. It returns once their records are saved.
func (s *CollectorService) StopChannel(channelID string) int {
	return s.stopWhere(func(t *tracked) bool {
		return t.c.Trigger().ChannelID == channelID
	})
}

// StopAll stops every running collector, including ones already finishing,
// and waits until they are recorded.
func (s *CollectorService) StopAll() int {
	return s.stopWhere(func(*tracked) bool { return true })
}

func (s *CollectorService) stopWhere(match func(*tracked) bool) int {
	s.mu.RLock()
	var targets []*collector.Collector
	for _, t := range s.active {
		if match(t) {
			targets = append(targets, t.c)
		}
	}
	s.mu.RUnlock()

	// Stop outside the lock: finished listeners take it again.
	for _, c := range targets {
		c.Stop()
	}
	for _, c := range targets {
		<-c.Done()
	}
	return len(targets)
}

// History returns the latest n finished collections of channelID.
func (s *CollectorService) History(channelID string, n int) ([]*domain.CollectionRecord, error) {
	if s.records == nil {
		return nil, ErrHistoryDisabled
	}
	return s.records.FindByChannel(channelID, n)
}

// GetStatus returns a diagnostic snapshot.
func (s *CollectorService) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"active":          s.ActiveCount(),
		"presets":         s.presets.Count(),
		"history_enabled": s.records != nil,
	}
}
