package domain

import "time"

// ---------------------------------------------------------------------------
// Collection records: what a finished collector leaves behind
// ---------------------------------------------------------------------------

// CollectionRecord summarizes a finished collection for history queries.
type CollectionRecord struct {
	ID         EntityID      `json:"id"`
	Platform   ChannelType   `json:"platform"`
	ChannelID  string        `json:"channel_id"`
	TriggerID  string        `json:"trigger_id"`
	Preset     string        `json:"preset,omitempty"`
	Reason     string        `json:"reason"`
	Limit      int           `json:"limit"`
	Timeout    time.Duration `json:"timeout"`
	MessageIDs []string      `json:"message_ids"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Count returns the number of collected messages.
func (r *CollectionRecord) Count() int { return len(r.MessageIDs) }

// CollectionRepository persists collection records.
type CollectionRepository interface {
	// Save persists a record (create or replace).
	Save(record *CollectionRecord) error
	// FindByID retrieves a record by its identity.
	FindByID(id EntityID) (*CollectionRecord, error)
	// FindByChannel returns the newest records of a channel, newest first.
	FindByChannel(channelID string, limit int) ([]*CollectionRecord, error)
}
