package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var (
	start   = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end     = start.Add(time.Hour)
	midway  = start.Add(30 * time.Minute)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// clock is a settable time source shared by ledger and finalizer in tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func user(id int64) domain.Identity  { return domain.Identity{UserID: id, Role: domain.RoleUser} }
func admin(id int64) domain.Identity { return domain.Identity{UserID: id, Role: domain.RoleAdmin} }

func seedItem(t *testing.T, s *memory.Store, price int64) domain.Item {
	t.Helper()
	it, err := s.CreateItem(context.Background(), domain.Item{
		Name:       "Painting",
		StartTime:  start,
		EndTime:    end,
		StartPrice: price,
	})
	assert.NoError(t, err)
	return it
}

func rejectKind(t *testing.T, err error) RejectKind {
	t.Helper()
	rej, ok := AsReject(err)
	assert.True(t, ok)
	return rej.Kind
}

func TestSubmitAcceptsAndReturnsReceipt(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 100)
	l := NewLedger(s, nil, discard).WithClock(newClock(midway).Now)

	r, err := l.Submit(context.Background(), SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 150})
	assert.NoError(t, err)
	check.Equal(t, it.ID, r.ItemID)
	check.Equal(t, int64(150), r.NewBid)
	check.Equal(t, int64(1), r.UserID)
	check.Equal(t, "accepted", r.Status)
	check.Nil(t, r.PreviousBidderID)
	check.Equal(t, "Painting", r.ItemName)
	check.NotEqual(t, "", r.Bid.ID)

	r, err = l.Submit(context.Background(), SubmitRequest{ItemID: it.ID, Bidder: user(2), Amount: 151})
	assert.NoError(t, err)
	assert.NotNil(t, r.PreviousBidderID)
	check.Equal(t, int64(1), *r.PreviousBidderID)
	check.Equal(t, int64(150), *r.PreviousBid)
}

func TestSubmitRejections(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 100)
	clk := newClock(midway)
	l := NewLedger(s, nil, discard).WithClock(clk.Now)
	ctx := context.Background()

	_, err := l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 100})
	check.Equal(t, KindBidTooLow, rejectKind(t, err))
	check.True(t, errors.Is(err, domain.ErrBidTooLow))

	_, err = l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: -5})
	check.Equal(t, KindBidTooLow, rejectKind(t, err))

	_, err = l.Submit(ctx, SubmitRequest{ItemID: 404, Bidder: user(1), Amount: 500})
	check.Equal(t, KindNotFound, rejectKind(t, err))
	check.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: admin(9), Amount: 500})
	check.Equal(t, KindPermissionDenied, rejectKind(t, err))
	check.Equal(t, "Admin cannot place bids", err.Error())

	clk.Set(start.Add(-time.Minute))
	_, err = l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 500})
	check.Equal(t, KindAuctionClosed, rejectKind(t, err))

	// Past the end time but not yet finalized: the ledger must not trust the
	// open flag.
	clk.Set(end)
	_, err = l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 500})
	check.Equal(t, KindAuctionClosed, rejectKind(t, err))
	check.True(t, errors.Is(err, domain.ErrAuctionClosed))

	got, _ := s.GetItem(ctx, it.ID)
	check.Nil(t, got.CurrentBid)
}

func TestSubmitEqualBidRejected(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 100)
	l := NewLedger(s, nil, discard).WithClock(newClock(midway).Now)
	ctx := context.Background()

	_, err := l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 150})
	assert.NoError(t, err)

	_, err = l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(2), Amount: 150})
	check.Equal(t, KindBidTooLow, rejectKind(t, err))
	rej, _ := AsReject(err)
	check.Equal(t, int64(150), rej.Minimum)
}

func TestSubmitConcurrentNoLostUpdate(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 0)
	l := NewLedger(s, nil, discard).WithClock(newClock(midway).Now)
	ctx := context.Background()

	const bidders = 64
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 1; i <= bidders; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(id), Amount: id * 10}); err == nil {
				accepted.Add(1)
			}
		}(int64(i))
	}
	wg.Wait()

	got, err := s.GetItem(ctx, it.ID)
	assert.NoError(t, err)
	check.Equal(t, int64(bidders*10), *got.CurrentBid)
	check.Equal(t, int64(bidders), *got.HighBidderID)

	bids, _ := s.ListBids(ctx, it.ID)
	check.Equal(t, accepted.Load(), int64(len(bids)))
	for i := 1; i < len(bids); i++ {
		check.True(t, bids[i].Amount > bids[i-1].Amount)
	}
}

func TestSubmitStampsBidsInCommitOrder(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 0)
	var ticks atomic.Int64
	tick := func() time.Time {
		return midway.Add(time.Duration(ticks.Add(1)) * time.Microsecond)
	}
	l := NewLedger(s, nil, discard).WithClock(tick)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		receipts = make(map[string]Receipt)
		wg       sync.WaitGroup
	)
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r, err := l.Submit(ctx, SubmitRequest{ItemID: it.ID, Bidder: user(id), Amount: id})
			if err == nil {
				mu.Lock()
				receipts[r.Bid.ID] = r
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()

	// Ordered by CreatedAt, accepted amounts must still climb.
	bids, _ := s.ListBids(ctx, it.ID)
	assert.Equal(t, len(receipts), len(bids))
	for i, b := range bids {
		check.Equal(t, receipts[b.ID].Bid.CreatedAt, b.CreatedAt)
		if i > 0 {
			check.True(t, b.CreatedAt.After(bids[i-1].CreatedAt))
			check.True(t, b.Amount > bids[i-1].Amount)
		}
	}
}

type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) CommitBid(context.Context, domain.Bid, domain.AdmitFunc) (domain.Item, error) {
	return domain.Item{}, f.err
}

func TestSubmitStoreFailureIsNotAReject(t *testing.T) {
	s := &failingStore{Store: memory.New(), err: errors.New("connection reset")}
	l := NewLedger(s, nil, discard).WithClock(newClock(midway).Now)

	_, err := l.Submit(context.Background(), SubmitRequest{ItemID: 1, Bidder: user(1), Amount: 10})
	assert.Error(t, err)
	_, isReject := AsReject(err)
	check.False(t, isReject)
}

func TestSubmitWritesAudit(t *testing.T) {
	s := memory.New()
	it := seedItem(t, s, 1)
	audit := memory.NewAuditLog()
	l := NewLedger(s, audit, discard).WithClock(newClock(midway).Now)

	_, err := l.Submit(context.Background(), SubmitRequest{ItemID: it.ID, Bidder: user(1), Amount: 2})
	assert.NoError(t, err)
	check.Equal(t, []string{"bid.accepted"}, audit.Events())
}
