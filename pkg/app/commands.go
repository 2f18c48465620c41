package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/msgcollector/pkg/collector"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// Replier sends a plain text message to a channel. Each platform adapter
// provides one.
type Replier interface {
	Reply(ctx context.Context, channelID, text string) error
}

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits content into a command when it starts with prefix.
func ParseCommand(prefix, content string) (Command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// CommandDispatcher listens on a source for chat commands:
//
//	<prefix>collect <preset>           start a preset collector
//	<prefix>collect <limit> <timeout>  start an ad-hoc collector, e.g. "!collect 3 30s"
//	<prefix>stop                       stop collectors in this channel
//	<prefix>presets                    list presets
//	<prefix>history                    show recent collections in this channel
type CommandDispatcher struct {
	service *CollectorService
	source  domain.EventSource
	replier Replier
	prefix  string

	mu    sync.Mutex
	ctx   context.Context
	subID domain.SubscriptionID
}

func NewCommandDispatcher(service *CollectorService, source domain.EventSource, replier Replier, prefix string) *CommandDispatcher {
	return &CommandDispatcher{
		service: service,
		source:  source,
		replier: replier,
		prefix:  prefix,
	}
}

// Attach subscribes to the source. Replies use ctx.
func (d *CommandDispatcher) Attach(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subID != "" {
		return
	}
	d.ctx = ctx
	d.subID = d.source.Subscribe(domain.EventMessageCreated, d.handle)
}

// Detach unsubscribes from the source. Running collectors are not stopped.
func (d *CommandDispatcher) Detach() {
	d.mu.Lock()
	id := d.subID
	d.subID = ""
	d.mu.Unlock()
	if id != "" {
		d.source.Unsubscribe(domain.EventMessageCreated, id)
	}
}

func (d *CommandDispatcher) replyContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

func (d *CommandDispatcher) handle(e domain.Event) {
	msg, ok := domain.MessageFromEvent(e)
	if !ok || msg.AuthorIsBot {
		return
	}
	cmd, ok := ParseCommand(d.prefix, msg.Content)
	if !ok {
		return
	}

	logger.DebugCF("commands", "Command received", map[string]interface{}{
		"command":    cmd.Name,
		"channel_id": msg.ChannelID,
		"author_id":  msg.AuthorID,
	})

	switch cmd.Name {
	case "collect":
		d.collect(msg, cmd.Args)
	case "stop":
		n := d.service.StopChannel(msg.ChannelID)
		d.reply(msg.ChannelID, fmt.Sprintf("Stopped %d collector(s).", n))
	case "presets":
		d.reply(msg.ChannelID, d.listPresets())
	case "history":
		d.reply(msg.ChannelID, d.history(msg.ChannelID))
	}
}

func (d *CommandDispatcher) collect(trigger domain.Message, args []string) {
	var (
		c      *collector.Collector
		err    error
		preset string
	)

	switch len(args) {
	case 0:
		preset = "next"
		c, err = d.service.StartPreset(d.source, trigger, preset)
	case 1:
		preset = args[0]
		c, err = d.service.StartPreset(d.source, trigger, preset)
	default:
		var opts collector.Options
		opts, err = parseAdHoc(args[0], args[1])
		if err == nil {
			c, err = d.service.Start(d.source, trigger, nil, opts)
		}
	}

	if err != nil {
		if errors.Is(err, ErrUnknownPreset) {
			d.reply(trigger.ChannelID, fmt.Sprintf("Unknown preset %q. Try %spresets.", preset, d.prefix))
			return
		}
		d.reply(trigger.ChannelID, "Cannot start collector: "+err.Error())
		return
	}

	cfg := c.Config()
	d.reply(trigger.ChannelID, fmt.Sprintf("Collecting up to %d message(s) for %s.", cfg.Limit(), cfg.Timeout()))
	c.OnFinished(func(res *collector.Result) {
		d.reply(trigger.ChannelID, FormatSummary(res))
	})
}

func parseAdHoc(limitArg, timeoutArg string) (collector.Options, error) {
	limit, err := strconv.Atoi(limitArg)
	if err != nil {
		return collector.Options{}, fmt.Errorf("limit %q is not a number", limitArg)
	}
	timeout, err := time.ParseDuration(timeoutArg)
	if err != nil {
		secs, serr := strconv.Atoi(timeoutArg)
		if serr != nil {
			return collector.Options{}, fmt.Errorf("timeout %q is not a duration", timeoutArg)
		}
		timeout = time.Duration(secs) * time.Second
	}
	opts := collector.Options{Limit: limit, Timeout: timeout}
	if _, err := collector.NewConfig(opts); err != nil {
		return collector.Options{}, err
	}
	return opts, nil
}

func (d *CommandDispatcher) listPresets() string {
	var b strings.Builder
	b.WriteString("Presets:")
	for _, p := range d.service.Presets().List() {
		fmt.Fprintf(&b, "\n• %s (limit %d, %s)", p.Name, p.Limit, p.Timeout)
		if p.Description != "" {
			b.WriteString(": " + p.Description)
		}
	}
	return b.String()
}

func (d *CommandDispatcher) history(channelID string) string {
	records, err := d.service.History(channelID, 5)
	if err != nil {
		return "History unavailable: " + err.Error()
	}
	if len(records) == 0 {
		return "No collections in this channel yet."
	}
	var b strings.Builder
	b.WriteString("Recent collections:")
	for _, r := range records {
		name := r.Preset
		if name == "" {
			name = "ad-hoc"
		}
		fmt.Fprintf(&b, "\n• %s: %d/%d (%s) at %s",
			name, r.Count(), r.Limit, r.Reason, r.FinishedAt.Format(time.RFC3339))
	}
	return b.String()
}

func (d *CommandDispatcher) reply(channelID, text string) {
	if d.replier == nil {
		return
	}
	if err := d.replier.Reply(d.replyContext(), channelID, text); err != nil {
		logger.WarnCF("commands", "Reply failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
	}
}

// FormatSummary renders a finished collection for chat.
func FormatSummary(res *collector.Result) string {
	var reason string
	switch res.Reason {
	case collector.ReasonLimit:
		reason = "limit reached"
	case collector.ReasonTimeout:
		reason = "time is up"
	case collector.ReasonStopped:
		reason = "stopped"
	default:
		reason = string(res.Reason)
	}

	elapsed := res.FinishedAt.Sub(res.StartedAt).Round(100 * time.Millisecond)
	var b strings.Builder
	fmt.Fprintf(&b, "Collected %d/%d message(s), %s after %s", res.Len(), res.Limit, reason, elapsed)
	if res.Len() == 0 {
		return b.String() + "."
	}
	b.WriteString(":")
	res.Messages.Each(func(m domain.Message) bool {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		fmt.Fprintf(&b, "\n• %s: %s", author, m.Content)
		return true
	})
	return b.String()
}
