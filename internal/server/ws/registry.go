package ws

import (
	"log/slog"
	"strconv"
	"sync"
)

// ActiveItemsKey is the channel key of the global active-items feed.
const ActiveItemsKey = "active-items"

// ItemKey returns the channel key for one item's bid channel.
func ItemKey(itemID int64) string {
	return "item:" + strconv.FormatInt(itemID, 10)
}

// Subscriber is a live connection that can receive broadcasts. Send must not
// block; it hands the payload to the connection's own writer.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// channel is the subscriber set of one key, guarded by its own lock so
// traffic on unrelated items never contends.
type channel struct {
	mu      sync.Mutex
	subs    map[string]Subscriber
	removed bool
}

// Registry maps channel keys to subscriber sets.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*channel
	// memberships records which keys each subscriber joined, so Drop can
	// remove it everywhere.
	memberships map[string]map[string]struct{}
	logger      *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		channels:    make(map[string]*channel),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger.With(slog.String("component", "ws_registry")),
	}
}

// Subscribe adds sub to key. Subscribing twice is a no-op.
func (r *Registry) Subscribe(key string, sub Subscriber) {
	for {
		ch := r.channel(key)

		ch.mu.Lock()
		if ch.removed {
			// Lost a race with the last unsubscribe; fetch the new entry.
			ch.mu.Unlock()
			continue
		}
		ch.subs[sub.ID()] = sub
		ch.mu.Unlock()

		r.mu.Lock()
		keys, ok := r.memberships[sub.ID()]
		if !ok {
			keys = make(map[string]struct{})
			r.memberships[sub.ID()] = keys
		}
		keys[key] = struct{}{}
		r.mu.Unlock()
		return
	}
}

// Unsubscribe removes sub from key and deletes the key once it is empty.
func (r *Registry) Unsubscribe(key string, sub Subscriber) {
	r.remove(key, sub.ID())

	r.mu.Lock()
	if keys, ok := r.memberships[sub.ID()]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.memberships, sub.ID())
		}
	}
	r.mu.Unlock()
}

// Drop removes sub from every key it joined.
func (r *Registry) Drop(sub Subscriber) {
	r.mu.Lock()
	keys := r.memberships[sub.ID()]
	delete(r.memberships, sub.ID())
	r.mu.Unlock()

	for key := range keys {
		r.remove(key, sub.ID())
	}
}

// Broadcast delivers payload to every subscriber of key and returns how many
// accepted it. The set is copied under the channel lock and sends happen
// after it is released. A failing subscriber is logged and skipped.
func (r *Registry) Broadcast(key string, payload []byte) int {
	r.mu.Lock()
	ch, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	ch.mu.Lock()
	targets := make([]Subscriber, 0, len(ch.subs))
	for _, s := range ch.subs {
		targets = append(targets, s)
	}
	ch.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			r.logger.Warn("ws: broadcast to subscriber failed",
				slog.String("channel", key),
				slog.String("subscriber", s.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribers returns the number of subscribers on key.
func (r *Registry) Subscribers(key string) int {
	r.mu.Lock()
	ch, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// Channels returns the number of keys with at least one subscriber.
func (r *Registry) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) channel(key string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[key]
	if !ok {
		ch = &channel{subs: make(map[string]Subscriber)}
		r.channels[key] = ch
	}
	return ch
}

func (r *Registry) remove(key, id string) {
	r.mu.Lock()
	ch, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.subs, id)
	empty := len(ch.subs) == 0
	if empty {
		ch.removed = true
	}
	ch.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.channels[key] == ch {
			delete(r.channels, key)
		}
		r.mu.Unlock()
	}
}
