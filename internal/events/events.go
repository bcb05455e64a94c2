// Package events broadcasts batch progress so other services (notification
// senders, dashboards) can follow a batch without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/nats-io/nats.go"
)

type Type string

const (
	TypeBatchStarted  Type = "batch.started"
	TypeItemUpdated   Type = "item.updated"
	TypeBatchFinished Type = "batch.finished"
)

type Event struct {
	Type      Type              `json:"type"`
	BatchID   string            `json:"batchId"`
	Index     *int              `json:"index,omitempty"`
	Status    string            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Output    string            `json:"output,omitempty"`
	At        time.Time         `json:"at"`
	Recipient *models.Recipient `json:"recipient,omitempty"`
}

// Publisher is best-effort: delivery failures are logged by implementations.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// ItemEvent describes one item's transition within job.
func ItemEvent(job *models.BatchJob, item *models.BatchItem) Event {
	idx := item.Index
	recipient := item.Recipient
	return Event{
		Type:      TypeItemUpdated,
		BatchID:   job.ID,
		Index:     &idx,
		Status:    string(item.Status),
		Error:     item.Error,
		Completed: job.Completed(),
		Total:     len(job.Items),
		Output:    item.OutputReference,
		At:        time.Now(),
		Recipient: &recipient,
	}
}

// JobEvent describes a batch-level transition.
func JobEvent(t Type, job *models.BatchJob) Event {
	return Event{
		Type:      t,
		BatchID:   job.ID,
		Status:    string(job.Status),
		Completed: job.Completed(),
		Total:     len(job.Items),
		At:        time.Now(),
	}
}

// NATSPublisher publishes JSON events on <prefix>.<batchID>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials the NATS server at url.
func Connect(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("blessings-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisher(conn, prefix), nil
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "blessings.batch"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject events for batchID are published on.
func (p *NATSPublisher) Subject(batchID string) string {
	return p.prefix + "." + batchID
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Events] Warning: failed to marshal %s event: %v", e.Type, err)
		return
	}
	if err := p.conn.Publish(p.Subject(e.BatchID), data); err != nil {
		log.Printf("[Events] Warning: failed to publish %s for %s: %v", e.Type, e.BatchID, err)
	}
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
