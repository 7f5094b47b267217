package natsbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

func TestSubject(t *testing.T) {
	ev := domain.Event{Type: domain.EventBidAccepted, ItemID: 42}
	check.Equal(t, "auction.events.bid.accepted.42", Subject("", ev))
	check.Equal(t, "x.bid.accepted.42", Subject("x", ev))

	ev.Type = domain.EventAuctionClosed
	check.Equal(t, "auction.events.auction.closed.42", Subject(DefaultSubjectPrefix, ev))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	check.Equal(t, DefaultStream, c.Stream)
	check.Equal(t, DefaultSubjectPrefix, c.SubjectPrefix)
	check.Equal(t, 1, c.Replicas)
	check.Equal(t, defaultMaxAge, c.MaxAge)
}

// TestPublishRoundTrip needs a JetStream-enabled server at NATS_TEST_URL.
func TestPublishRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := "AUCTION_TEST_" + uuid.NewString()[:8]
	prefix := "test." + uuid.NewString()[:8]
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub, err := Connect(ctx, Config{URL: url, Stream: stream, SubjectPrefix: prefix, MaxAge: time.Minute}, logger)
	assert.NoError(t, err)
	defer pub.Close()
	defer func() { _ = pub.js.DeleteStream(context.Background(), stream) }()

	amount := int64(150)
	ev := domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventBidAccepted,
		ItemID:    7,
		Amount:    &amount,
		Timestamp: time.Now().UTC(),
	}
	assert.NoError(t, pub.Publish(ctx, ev))
	// Same message id: deduplicated by the server.
	assert.NoError(t, pub.Publish(ctx, ev))

	cons, err := pub.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject: Subject(prefix, ev),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	assert.NoError(t, err)
	batch, err := cons.Fetch(10, jetstream.FetchMaxWait(time.Second))
	assert.NoError(t, err)

	var got []domain.Event
	for msg := range batch.Messages() {
		var e domain.Event
		assert.NoError(t, json.Unmarshal(msg.Data(), &e))
		got = append(got, e)
		_ = msg.Ack()
	}
	assert.Equal(t, 1, len(got))
	check.Equal(t, ev.ID, got[0].ID)
	check.Equal(t, int64(150), *got[0].Amount)
}
