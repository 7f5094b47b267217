package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

type tokenTable map[string]domain.Identity

func (t tokenTable) Resolve(_ context.Context, token string) (domain.Identity, error) {
	id, ok := t[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}

// ledgerPlacer is the minimal bid path: submit, then announce.
type ledgerPlacer struct {
	ledger    *auction.Ledger
	announcer *Announcer
}

func (p ledgerPlacer) PlaceBid(ctx context.Context, who domain.Identity, itemID, amount int64) (auction.Receipt, error) {
	r, err := p.ledger.Submit(ctx, auction.SubmitRequest{ItemID: itemID, Bidder: who, Amount: amount})
	if err != nil {
		return auction.Receipt{}, err
	}
	p.announcer.AnnounceBid(ctx, r)
	return r, nil
}

type brokenPlacer struct{}

func (brokenPlacer) PlaceBid(context.Context, domain.Identity, int64, int64) (auction.Receipt, error) {
	return auction.Receipt{}, errors.New("connection refused")
}

type gatewayEnv struct {
	srv   *httptest.Server
	store *memory.Store
	reg   *Registry
	item  domain.Item
}

func newGatewayEnv(t *testing.T, placer func(*auction.Ledger, *Announcer) BidPlacer) *gatewayEnv {
	t.Helper()
	store := memory.New()
	now := time.Now()
	item, err := store.CreateItem(context.Background(), domain.Item{
		Name:       "Clock",
		StartTime:  now.Add(-time.Hour),
		EndTime:    now.Add(time.Hour),
		StartPrice: 100,
	})
	assert.NoError(t, err)

	reg := NewRegistry(discard)
	ann := NewAnnouncer(store, NewLocalFanout(reg), discard)
	ledger := auction.NewLedger(store, nil, discard)
	tokens := tokenTable{
		"alice": {UserID: 1, Role: domain.RoleUser},
		"bob":   {UserID: 2, Role: domain.RoleUser},
		"root":  {UserID: 9, Role: domain.RoleAdmin},
	}
	gw := NewGateway(context.Background(), reg, ann, placer(ledger, ann), tokens, GatewayConfig{}, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/active-items", gw.HandleActiveItems)
	mux.HandleFunc("GET /ws/bid/{id}", gw.HandleBid)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &gatewayEnv{srv: srv, store: store, reg: reg, item: item}
}

func defaultPlacer(l *auction.Ledger, a *Announcer) BidPlacer {
	return ledgerPlacer{ledger: l, announcer: a}
}

func (e *gatewayEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *gatewayEnv) bidPath(token string) string {
	p := "/ws/bid/" + itoa(e.item.ID)
	if token != "" {
		p += "?token=" + token
	}
	return p
}

func itoa(n int64) string { return strings.TrimPrefix(ItemKey(n), "item:") }

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	assert.NoError(t, json.Unmarshal(data, v))
}

func readClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		t.Fatalf("expected close frame, got %v", err)
		return 0
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func sendBid(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(body)))
}

func TestActiveItemsSnapshotOnConnect(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	conn := env.dial(t, "/ws/active-items")

	var snap []domain.ItemSnapshot
	readJSON(t, conn, &snap)
	assert.Equal(t, 1, len(snap))
	check.Equal(t, env.item.ID, snap[0].ItemID)
	check.Equal(t, domain.StatusLive, snap[0].Status)
	check.Equal(t, int64(100), snap[0].CurrentBid)
}

// stalledSource reads the open items, then parks its first caller until
// release is closed, handing back what it read before parking.
type stalledSource struct {
	store   *memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stalledSource) ListOpenItems(ctx context.Context) ([]domain.Item, error) {
	items, err := s.store.ListOpenItems(ctx)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return items, err
}

func TestActiveItemsSnapshotPrecedesLaterBroadcasts(t *testing.T) {
	store := memory.New()
	now := time.Now()
	item, err := store.CreateItem(context.Background(), domain.Item{
		Name:       "Clock",
		StartTime:  now.Add(-time.Hour),
		EndTime:    now.Add(time.Hour),
		StartPrice: 100,
	})
	assert.NoError(t, err)

	src := &stalledSource{store: store, entered: make(chan struct{}), release: make(chan struct{})}
	reg := NewRegistry(discard)
	ann := NewAnnouncer(src, NewLocalFanout(reg), discard)
	gw := NewGateway(context.Background(), reg, ann, brokenPlacer{}, tokenTable{}, GatewayConfig{}, discard)
	srv := httptest.NewServer(http.HandlerFunc(gw.HandleActiveItems))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// The joining connection has read the feed but not yet sent it when a
	// bid commits and the feed is republished.
	<-src.entered
	ledger := auction.NewLedger(store, nil, discard)
	_, err = ledger.Submit(context.Background(), auction.SubmitRequest{
		ItemID: item.ID,
		Bidder: domain.Identity{UserID: 1, Role: domain.RoleUser},
		Amount: 150,
	})
	assert.NoError(t, err)
	published := make(chan struct{})
	go func() {
		ann.PublishActive(context.Background())
		close(published)
	}()
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	<-published

	var first, second []domain.ItemSnapshot
	readJSON(t, conn, &first)
	readJSON(t, conn, &second)
	assert.Equal(t, 1, len(first))
	assert.Equal(t, 1, len(second))
	check.Equal(t, int64(100), first[0].CurrentBid)
	check.Equal(t, int64(150), second[0].CurrentBid)
}

func TestBidChannelAcceptsAndBroadcasts(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	feed := env.dial(t, "/ws/active-items")
	var initial []domain.ItemSnapshot
	readJSON(t, feed, &initial)

	alice := env.dial(t, env.bidPath("alice"))
	bob := env.dial(t, env.bidPath("bob"))
	waitFor(t, func() bool { return env.reg.Subscribers(ItemKey(env.item.ID)) == 2 })

	sendBid(t, alice, `{"amount": 150}`)

	for _, c := range []*websocket.Conn{alice, bob} {
		var got auction.Receipt
		readJSON(t, c, &got)
		check.Equal(t, env.item.ID, got.ItemID)
		check.Equal(t, int64(150), got.NewBid)
		check.Equal(t, int64(1), got.UserID)
		check.Equal(t, "accepted", got.Status)
	}

	var refreshed []domain.ItemSnapshot
	readJSON(t, feed, &refreshed)
	assert.Equal(t, 1, len(refreshed))
	check.Equal(t, int64(150), refreshed[0].CurrentBid)
	assert.NotNil(t, refreshed[0].WonBy)
	check.Equal(t, int64(1), *refreshed[0].WonBy)
}

func TestBidChannelErrorsKeepConnectionOpen(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	conn := env.dial(t, env.bidPath("alice"))

	cases := []struct {
		body string
		want string
	}{
		{`not json`, TypeJSONDecode},
		{`{"amount": "lots"}`, TypeValidation},
		{`{"amount": 150.5}`, TypeValidation},
		{`{}`, TypeValidation},
		{`[1, 2]`, TypeValidation},
		{`{"amount": 100}`, TypeLessBid},
	}
	for _, tc := range cases {
		sendBid(t, conn, tc.body)
		var frame ErrorFrame
		readJSON(t, conn, &frame)
		check.Equal(t, tc.want, frame.Type)
		check.NotEqual(t, "", frame.Error)
	}

	// Still usable after every rejection.
	sendBid(t, conn, `{"amount": 101}`)
	var ok auction.Receipt
	readJSON(t, conn, &ok)
	check.Equal(t, int64(101), ok.NewBid)
}

func TestBidChannelClosedAuction(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	closed, err := env.store.CreateItem(context.Background(), domain.Item{
		Name:       "Old",
		StartTime:  time.Now().Add(-2 * time.Hour),
		EndTime:    time.Now().Add(-time.Hour),
		StartPrice: 1,
	})
	assert.NoError(t, err)

	conn := env.dial(t, "/ws/bid/"+itoa(closed.ID)+"?token=alice")
	sendBid(t, conn, `{"amount": 5}`)
	var frame ErrorFrame
	readJSON(t, conn, &frame)
	check.Equal(t, TypeTimeExceed, frame.Type)
}

func TestBidChannelUnknownItem(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	conn := env.dial(t, "/ws/bid/4242?token=alice")
	sendBid(t, conn, `{"amount": 5}`)
	var frame ErrorFrame
	readJSON(t, conn, &frame)
	check.Equal(t, TypeNoEntity, frame.Type)
}

func TestBidChannelRejectsAdmin(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	conn := env.dial(t, env.bidPath("root"))

	var frame ErrorFrame
	readJSON(t, conn, &frame)
	check.Equal(t, ErrorFrame{Error: "Admin cannot place bids", Type: TypePermissionDenied}, frame)
	check.Equal(t, websocket.ClosePolicyViolation, readClose(t, conn))
	check.Equal(t, 0, env.reg.Subscribers(ItemKey(env.item.ID)))
}

func TestBidChannelRequiresValidToken(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)

	missing := env.dial(t, env.bidPath(""))
	check.Equal(t, websocket.ClosePolicyViolation, readClose(t, missing))

	invalid := env.dial(t, env.bidPath("mallory"))
	check.Equal(t, websocket.ClosePolicyViolation, readClose(t, invalid))

	check.Equal(t, 0, env.reg.Channels())
}

func TestBidChannelBearerHeader(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + env.bidPath("")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer bob"}})
	assert.NoError(t, err)
	defer conn.Close()

	sendBid(t, conn, `{"amount": 120}`)
	var got auction.Receipt
	readJSON(t, conn, &got)
	check.Equal(t, int64(2), got.UserID)
}

func TestBidChannelStoreFailureClosesInternalError(t *testing.T) {
	env := newGatewayEnv(t, func(*auction.Ledger, *Announcer) BidPlacer { return brokenPlacer{} })
	conn := env.dial(t, env.bidPath("alice"))

	sendBid(t, conn, `{"amount": 500}`)
	check.Equal(t, websocket.CloseInternalServerErr, readClose(t, conn))
	waitFor(t, func() bool { return env.reg.Channels() == 0 })
}

func TestDisconnectUnsubscribes(t *testing.T) {
	env := newGatewayEnv(t, defaultPlacer)
	feed := env.dial(t, "/ws/active-items")
	var snap []domain.ItemSnapshot
	readJSON(t, feed, &snap)
	bidder := env.dial(t, env.bidPath("alice"))
	waitFor(t, func() bool { return env.reg.Subscribers(ItemKey(env.item.ID)) == 1 })

	_ = bidder.Close()
	_ = feed.Close()

	waitFor(t, func() bool { return env.reg.Channels() == 0 })
	check.Equal(t, 0, env.reg.Broadcast(ActiveItemsKey, []byte("[]")))
}

func TestParseBid(t *testing.T) {
	amount, bad := ParseBid([]byte(`{"amount": 42}`))
	check.Nil(t, bad)
	check.Equal(t, int64(42), amount)

	_, bad = ParseBid([]byte(`{"amount": null}`))
	assert.NotNil(t, bad)
	check.Equal(t, TypeValidation, bad.Type)

	_, bad = ParseBid([]byte(`{"amount": 1e3}`))
	assert.NotNil(t, bad)
	check.Equal(t, TypeValidation, bad.Type)

	_, bad = ParseBid([]byte(`{"amount":`))
	assert.NotNil(t, bad)
	check.Equal(t, TypeJSONDecode, bad.Type)
}

func TestRejectFrame(t *testing.T) {
	_, ok := RejectFrame(errors.New("db down"))
	check.False(t, ok)

	f, ok := RejectFrame(&auction.RejectError{Kind: auction.KindBidTooLow})
	check.True(t, ok)
	check.Equal(t, TypeLessBid, f.Type)

	f, _ = RejectFrame(&auction.RejectError{Kind: auction.KindPermissionDenied})
	check.Equal(t, "Admin cannot place bids", f.Error)
}
