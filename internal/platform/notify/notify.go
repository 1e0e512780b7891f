// Package notify publishes events about accepted follow-up submissions to
// downstream consumers: a Kafka topic, an SQS queue, a webhook or the log.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventSubmitted is published after a submission has been written.
const EventSubmitted = "followup.submitted"

// Event describes one accepted submission.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	MRN        string    `json:"mrn"`
	Row        int       `json:"row"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent returns an event with a fresh ID.
func NewEvent(eventType, mrn string, row int, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		MRN:        mrn,
		Row:        row,
		OccurredAt: at.UTC(),
	}
}

// Notifier delivers events. Implementations must be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// LogNotifier writes events to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(_ context.Context, e Event) error {
	n.logger.Info().
		Str("event_id", e.ID).
		Str("event_type", e.Type).
		Str("mrn", e.MRN).
		Int("row", e.Row).
		Time("occurred_at", e.OccurredAt).
		Msg("event published")
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
