package auction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingSink) Enqueue(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recordingSink) byKind(kind domain.NotificationKind) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, n := range r.sent {
		if n.Kind == kind {
			ids = append(ids, n.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingListener struct {
	mu     sync.Mutex
	closed []domain.Item
}

func (r *recordingListener) AuctionClosed(_ context.Context, item domain.Item) {
	r.mu.Lock()
	r.closed = append(r.closed, item)
	r.mu.Unlock()
}

type harness struct {
	store  *memory.Store
	clock  *clock
	ledger *Ledger
	fin    *Finalizer
	sink   *recordingSink
	audit  *memory.AuditLog
}

func newHarness() *harness {
	s := memory.New()
	clk := newClock(midway)
	sink := &recordingSink{}
	audit := memory.NewAuditLog()
	return &harness{
		store:  s,
		clock:  clk,
		ledger: NewLedger(s, nil, discard).WithClock(clk.Now),
		fin:    NewFinalizer(s, sink, FinalizerConfig{}, discard).WithClock(clk.Now).WithAudit(audit),
		sink:   sink,
		audit:  audit,
	}
}

func (h *harness) bid(t *testing.T, itemID, bidder, amount int64) error {
	t.Helper()
	_, err := h.ledger.Submit(context.Background(), SubmitRequest{ItemID: itemID, Bidder: user(bidder), Amount: amount})
	return err
}

func TestFinalizeWinnerAndLosers(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 100)
	const a, b = int64(1), int64(2)

	assert.NoError(t, h.bid(t, x.ID, a, 150))
	check.Equal(t, KindBidTooLow, rejectKind(t, h.bid(t, x.ID, b, 150)))
	assert.NoError(t, h.bid(t, x.ID, b, 200))

	h.clock.Set(end)
	res, err := h.fin.Finalize(context.Background(), x.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeClosed, res.Outcome)
	assert.NotNil(t, res.WinnerID)
	check.Equal(t, b, *res.WinnerID)
	check.Equal(t, int64(200), *res.WinningBid)
	check.Equal(t, 1, res.Losers)

	check.Equal(t, []int64{b}, h.sink.byKind(domain.NotifyWinner))
	check.Equal(t, []int64{a}, h.sink.byKind(domain.NotifyLoser))

	got, _ := h.store.GetItem(context.Background(), x.ID)
	check.True(t, got.Closed)
	check.Equal(t, b, *got.WinnerID)
	check.Equal(t, []string{"auction.closed"}, h.audit.Events())
}

// heldClock parks the first caller until release is closed and always
// reports the same instant.
type heldClock struct {
	at      time.Time
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *heldClock) Now() time.Time {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.at
}

func TestFinalizeCountsBidAdmittedAtDeadline(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 100)
	const a, b = int64(1), int64(2)
	ctx := context.Background()

	assert.NoError(t, h.bid(t, x.ID, a, 150))

	held := &heldClock{
		at:      end.Add(-time.Millisecond),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	slow := NewLedger(h.store, nil, discard).WithClock(held.Now)

	bidErr := make(chan error, 1)
	go func() {
		_, err := slow.Submit(ctx, SubmitRequest{ItemID: x.ID, Bidder: user(b), Amount: 200})
		bidErr <- err
	}()
	<-held.entered

	// B is inside admit with the item locked. The deadline passes and the
	// finalizer starts before B commits.
	h.clock.Set(end)
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.fin.Finalize(ctx, x.ID)
		done <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(held.release)

	assert.NoError(t, <-bidErr)
	out := <-done
	assert.NoError(t, out.err)
	check.Equal(t, OutcomeClosed, out.res.Outcome)
	assert.NotNil(t, out.res.WinnerID)
	check.Equal(t, b, *out.res.WinnerID)
	check.Equal(t, int64(200), *out.res.WinningBid)
	check.Equal(t, 1, out.res.Losers)
	check.Equal(t, []int64{b}, h.sink.byKind(domain.NotifyWinner))
	check.Equal(t, []int64{a}, h.sink.byKind(domain.NotifyLoser))

	got, _ := h.store.GetItem(ctx, x.ID)
	check.True(t, got.Closed)
	check.Equal(t, b, *got.WinnerID)
	check.Equal(t, *got.HighBidderID, *got.WinnerID)
	check.Equal(t, int64(200), *got.CurrentBid)
}

func TestFinalizeNoBids(t *testing.T) {
	h := newHarness()
	y := seedItem(t, h.store, 50)
	listener := &recordingListener{}
	h.fin.AddListener(listener)

	h.clock.Set(end.Add(time.Minute))
	res, err := h.fin.Finalize(context.Background(), y.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeClosed, res.Outcome)
	check.Nil(t, res.WinnerID)
	check.Equal(t, 0, h.sink.count())

	got, _ := h.store.GetItem(context.Background(), y.ID)
	check.True(t, got.Closed)
	check.Nil(t, got.WinnerID)

	// Listeners still hear about it so subscribers learn the auction ended.
	assert.Equal(t, 1, len(listener.closed))
	check.True(t, listener.closed[0].Closed)
}

func TestFinalizeIdempotent(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 10)
	assert.NoError(t, h.bid(t, x.ID, 1, 20))
	assert.NoError(t, h.bid(t, x.ID, 2, 30))
	assert.NoError(t, h.bid(t, x.ID, 1, 40))

	h.clock.Set(end)
	first, err := h.fin.Finalize(context.Background(), x.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeClosed, first.Outcome)
	sent := h.sink.count()
	check.Equal(t, 2, sent)

	second, err := h.fin.Finalize(context.Background(), x.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeAlreadyClosed, second.Outcome)
	check.Equal(t, sent, h.sink.count())

	// Bidder 1 bid twice but is the winner; bidder 2 gets exactly one loss.
	check.Equal(t, []int64{1}, h.sink.byKind(domain.NotifyWinner))
	check.Equal(t, []int64{2}, h.sink.byKind(domain.NotifyLoser))
}

func TestFinalizeNotDue(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 10)

	res, err := h.fin.Finalize(context.Background(), x.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeNotDue, res.Outcome)

	got, _ := h.store.GetItem(context.Background(), x.ID)
	check.False(t, got.Closed)

	_, err = h.fin.Finalize(context.Background(), 999)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFinalizeConcurrentExactlyOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness()
		z := seedItem(t, h.store, 10)
		assert.NoError(t, h.bid(t, z.ID, 1, 20))
		assert.NoError(t, h.bid(t, z.ID, 2, 30))
		assert.NoError(t, h.bid(t, z.ID, 3, 40))
		h.clock.Set(end)

		const racers = 8
		results := make([]Result, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := h.fin.Finalize(context.Background(), z.ID)
				check.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		closed := 0
		for _, r := range results {
			if r.Outcome == OutcomeClosed {
				closed++
			} else {
				check.Equal(t, OutcomeAlreadyClosed, r.Outcome)
			}
		}
		check.Equal(t, 1, closed)
		check.Equal(t, []int64{3}, h.sink.byKind(domain.NotifyWinner))
		check.Equal(t, []int64{1, 2}, h.sink.byKind(domain.NotifyLoser))
	}
}

// flakyStore fails CloseItem for one item.
type flakyStore struct {
	*memory.Store
	failItem int64
}

func (f *flakyStore) CloseItem(ctx context.Context, id int64, at time.Time, decide domain.CloseFunc) ([]domain.Bid, bool, error) {
	if id == f.failItem {
		return nil, false, errors.New("read timeout")
	}
	return f.Store.CloseItem(ctx, id, at, decide)
}

func TestSweepContinuesPastFailure(t *testing.T) {
	mem := memory.New()
	bad := seedItem(t, mem, 10)
	good := seedItem(t, mem, 10)
	future, err := mem.CreateItem(context.Background(), domain.Item{Name: "Later", StartTime: start, EndTime: end.Add(time.Hour), StartPrice: 1})
	assert.NoError(t, err)

	clk := newClock(end)
	store := &flakyStore{Store: mem, failItem: bad.ID}
	fin := NewFinalizer(store, &recordingSink{}, FinalizerConfig{}, discard).WithClock(clk.Now)

	report, err := fin.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 2, report.Scanned)
	check.Equal(t, 1, report.Closed)
	check.Equal(t, 1, report.Failed)

	g, _ := mem.GetItem(context.Background(), good.ID)
	check.True(t, g.Closed)
	b, _ := mem.GetItem(context.Background(), bad.ID)
	check.False(t, b.Closed)
	f, _ := mem.GetItem(context.Background(), future.ID)
	check.False(t, f.Closed)
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestFinalizeLockHeld(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 10)
	h.fin.WithLocks(heldLocks{})
	h.clock.Set(end)

	res, err := h.fin.Finalize(context.Background(), x.ID)
	assert.NoError(t, err)
	check.Equal(t, OutcomeBusy, res.Outcome)

	got, _ := h.store.GetItem(context.Background(), x.ID)
	check.False(t, got.Closed)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	h := newHarness()
	x := seedItem(t, h.store, 10)
	h.clock.Set(end)
	h.fin.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.fin.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := h.store.GetItem(context.Background(), x.ID); got.Closed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	check.True(t, errors.Is(<-done, context.Canceled))

	got, _ := h.store.GetItem(context.Background(), x.ID)
	check.True(t, got.Closed)
}

func TestSelectWinner(t *testing.T) {
	_, ok := SelectWinner(nil)
	check.False(t, ok)

	bids := []domain.Bid{
		{ID: "a", BidderID: 1, Amount: 100, CreatedAt: start.Add(3 * time.Second)},
		{ID: "b", BidderID: 2, Amount: 300, CreatedAt: start.Add(2 * time.Second)},
		{ID: "c", BidderID: 3, Amount: 300, CreatedAt: start.Add(1 * time.Second)},
		{ID: "d", BidderID: 4, Amount: 200, CreatedAt: start},
	}
	w, ok := SelectWinner(bids)
	check.True(t, ok)
	check.Equal(t, int64(3), w.BidderID)

	tied := []domain.Bid{
		{ID: "z", BidderID: 1, Amount: 5, CreatedAt: start},
		{ID: "y", BidderID: 2, Amount: 5, CreatedAt: start},
	}
	w, _ = SelectWinner(tied)
	check.Equal(t, "y", w.ID)
}

func TestLosers(t *testing.T) {
	winner := int64(2)
	bids := []domain.Bid{
		{BidderID: 1}, {BidderID: 2}, {BidderID: 3}, {BidderID: 1}, {BidderID: 2},
	}
	check.Equal(t, []int64{1, 3}, Losers(bids, &winner))
	check.Equal(t, []int64{1, 2, 3}, Losers(bids, nil))
}
