// Package buildevent reports build state transitions to interested parties.
package buildevent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/nativebuild/internal/amqputil"
)

// DefaultQueue is the AMQP queue events are published to by default.
const DefaultQueue = "nativebuild.build.events"

// Event describes a build entering State.
// Fields unknown at that state are empty.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Time       time.Time `json:"time"`
	State      string    `json:"state"`
	Platform   string    `json:"platform"`
	Account    string    `json:"account"`
	Project    string    `json:"project"`
	ProjectID  string    `json:"project_id,omitempty"`
	ArchiveURL string    `json:"archive_url,omitempty"`
	BuildID    string    `json:"build_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	BuildURL   string    `json:"build_url,omitempty"`
	LogsURL    string    `json:"logs_url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// LogPublisher writes events to a logger. Events with an error are logged at
// the error level.
type LogPublisher struct {
	Log *slog.Logger // optional
}

func (p *LogPublisher) Publish(ctx context.Context, e *Event) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"state", e.State, "platform", e.Platform}
	for _, a := range []struct{ key, value string }{
		{"project_id", e.ProjectID},
		{"archive_url", e.ArchiveURL},
		{"build_id", e.BuildID},
		{"status", e.Status},
		{"build_url", e.BuildURL},
		{"logs_url", e.LogsURL},
		{"error", e.Error},
	} {
		if a.value != "" {
			attrs = append(attrs, a.key, a.value)
		}
	}
	level := slog.LevelInfo
	if e.Error != "" {
		level = slog.LevelError
	}
	log.Log(ctx, level, "build event", attrs...)
	return nil
}

// AMQPPublisher sends events as JSON messages to an AMQP queue.
type AMQPPublisher struct {
	client *amqputil.Client
}

func NewAMQPPublisher(client *amqputil.Client) *AMQPPublisher {
	return &AMQPPublisher{client: client}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e *Event) error {
	body := new(bytes.Buffer)
	if err := json.NewEncoder(body).Encode(e); err != nil {
		return fmt.Errorf("buildevent.AMQPPublisher: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   e.ID.String(),
		Timestamp:   e.Time,
		Type:        e.State,
		Body:        body.Bytes(),
	}
	if err := p.client.Publish(ctx, msg); err != nil {
		return fmt.Errorf("buildevent.AMQPPublisher: %w", err)
	}
	return nil
}

// Receive waits for the next event on the publisher's queue.
func (p *AMQPPublisher) Receive(ctx context.Context) (*Event, error) {
	d, err := p.client.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildevent.AMQPPublisher: %w", err)
	}

	var e Event
	dec := json.NewDecoder(bytes.NewReader(d.Body))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("buildevent.AMQPPublisher: %w", err)
	}
	if dec.More() {
		return nil, errors.New("buildevent.AMQPPublisher: multiple top-level values")
	}
	return &e, nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
