// Package ingest decouples datagram receive path from slow event consumers.
//
// Receive path pushes decoded events into bounded Queue and records
// heartbeats in PresenceTracker. Dispatcher drains Queue into Sink
// in background. Delivery is at most once: queue overflow drops oldest
// events, sink failure drops the event.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/temoto/mobycom/mobycom"
)

// Event is decoded event packet with receive metadata.
// Packet.Kind is always KindEvent.
type Event struct {
	// ID is unique per received datagram, use as idempotency key downstream.
	ID         uuid.UUID
	Packet     *mobycom.Packet
	ReceivedAt time.Time
	From       string
}

func NewEvent(p *mobycom.Packet, from string, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Packet:     p,
		ReceivedAt: now,
		From:       from,
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("id=%s from=%s %s", e.ID, e.From, e.Packet.String())
}

// Sink consumes dispatched events. Must tolerate duplicates.
type Sink interface {
	Submit(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Submit(ctx context.Context, e Event) error { return f(ctx, e) }
