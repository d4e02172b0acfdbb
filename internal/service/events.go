package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AssessmentCompletedEvent is broadcast after every successful assessment so
// downstream consumers (analytics, gradebooks) can react without polling.
type AssessmentCompletedEvent struct {
	ID          string         `json:"id"`
	RequestHash string         `json:"request_hash"`
	TaskType    string         `json:"task_type"`
	Model       string         `json:"model"`
	Scores      map[string]int `json:"scores"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EventPublisher broadcasts assessment lifecycle events.
type EventPublisher interface {
	AssessmentCompleted(ctx context.Context, event AssessmentCompletedEvent) error
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher builds an EventPublisher backed by a NATS subject.
func NewNATSPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) EventPublisher {
	if subject == "" {
		subject = "markr.assessments.completed"
	}

	return &natsPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *natsPublisher) AssessmentCompleted(_ context.Context, event AssessmentCompletedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", p.subject).Msg("failed to publish assessment event")
		return err
	}

	return nil
}
