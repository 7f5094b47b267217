package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// EventStreamName is the Redis stream holding published auction events.
const EventStreamName = "auction:events"

// EventStream implements domain.EventPublisher on top of a SignalBus stream.
// It is the event sink when NATS is not configured, and backs the admin
// event feed.
type EventStream struct {
	bus domain.SignalBus
}

// NewEventStream creates an EventStream over bus.
func NewEventStream(bus domain.SignalBus) *EventStream {
	return &EventStream{bus: bus}
}

// Publish appends ev to the stream.
func (es *EventStream) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.Type, err)
	}
	return es.bus.StreamAppend(ctx, EventStreamName, data)
}

// StreamedEvent is an event together with its stream position.
type StreamedEvent struct {
	StreamID string       `json:"stream_id"`
	Event    domain.Event `json:"event"`
}

// Read returns up to count events after afterID. Use "0" to start from the
// oldest retained event.
func (es *EventStream) Read(ctx context.Context, afterID string, count int) ([]StreamedEvent, error) {
	if afterID == "" {
		afterID = "0"
	}
	msgs, err := es.bus.StreamRead(ctx, EventStreamName, afterID, count)
	if err != nil {
		return nil, err
	}
	out := make([]StreamedEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			continue
		}
		out = append(out, StreamedEvent{StreamID: m.ID, Event: ev})
	}
	return out, nil
}

var _ domain.EventPublisher = (*EventStream)(nil)
