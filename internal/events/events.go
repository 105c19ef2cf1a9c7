// Package events publishes domain events about uploads and allocations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event types
const (
	TypeJobSheetUploaded = "job_sheet.uploaded"
	TypeTileAllocated    = "tile.allocated"
)

// Event is the envelope written to the broker
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type JobSheetUploaded struct {
	SheetID     int64  `json:"sheet_id"`
	SheetName   string `json:"sheet_name"`
	RowsStored  int    `json:"rows_stored"`
	RowsSkipped int    `json:"rows_skipped"`
}

type TileAllocated struct {
	SheetID       int64  `json:"sheet_id"`
	TileID        string `json:"tile_id"`
	UserID        int64  `json:"user_id"`
	UserName      string `json:"user_name"`
	AssignedCount int64  `json:"assigned_count"`
}

func NewJobSheetUploaded(data JobSheetUploaded) Event {
	return Event{Type: TypeJobSheetUploaded, OccurredAt: time.Now().UTC(), Data: data}
}

func NewTileAllocated(data TileAllocated) Event {
	return Event{Type: TypeTileAllocated, OccurredAt: time.Now().UTC(), Data: data}
}

// Publisher delivers events; implementations must be safe for concurrent use
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// broker is the part of the RabbitMQ client the publisher needs
type broker interface {
	PublishWithRetry(ctx context.Context, messageType string, body []byte) error
}

// BrokerPublisher encodes events as JSON and hands them to RabbitMQ
type BrokerPublisher struct {
	broker  broker
	timeout time.Duration
}

// NewBrokerPublisher wraps a RabbitMQ client. timeout bounds each publish.
func NewBrokerPublisher(b broker, timeout time.Duration) *BrokerPublisher {
	return &BrokerPublisher{broker: b, timeout: timeout}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.broker.PublishWithRetry(ctx, event.Type, body); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// PublishBestEffort publishes detached from the caller's cancellation and
// logs failures instead of returning them
func PublishBestEffort(ctx context.Context, p Publisher, logger *slog.Logger, event Event) {
	if err := p.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("Failed to publish event",
			slog.String("type", event.Type),
			slog.Any("error", err),
		)
	}
}
