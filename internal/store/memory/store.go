// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" store driver and the tests of the packages above it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// itemRecord carries the per-item lock that serializes bids and closure.
// Lock order: itemRecord.mu before Store.mu.
type itemRecord struct {
	mu   sync.Mutex
	item domain.Item
}

// Store implements domain.AuctionStore and domain.UserStore.
type Store struct {
	mu     sync.RWMutex
	items  map[int64]*itemRecord
	bids   map[int64][]domain.Bid
	users  map[int64]domain.User
	nextID int64
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		items: make(map[int64]*itemRecord),
		bids:  make(map[int64][]domain.Bid),
		users: make(map[int64]domain.User),
		now:   time.Now,
	}
}

// PutUser adds or replaces a user account.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// CreateItem stores a new item. A zero ID is assigned from a sequence.
func (s *Store) CreateItem(_ context.Context, item domain.Item) (domain.Item, error) {
	if err := item.Validate(); err != nil {
		return domain.Item{}, fmt.Errorf("memory: create item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
	} else if item.ID > s.nextID {
		s.nextID = item.ID
	}
	if _, ok := s.items[item.ID]; ok {
		return domain.Item{}, fmt.Errorf("memory: create item %d: %w", item.ID, domain.ErrAlreadyExists)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}
	s.items[item.ID] = &itemRecord{item: item}
	return item, nil
}

// GetItem returns the item with the given id.
func (s *Store) GetItem(_ context.Context, id int64) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return rec.item, nil
}

// ListOpenItems returns every item not yet closed, soonest end first.
func (s *Store) ListOpenItems(_ context.Context) ([]domain.Item, error) {
	return s.filter(func(it domain.Item) bool { return !it.Closed }), nil
}

// ListLapsedItems returns open items whose end time is at or before now.
func (s *Store) ListLapsedItems(_ context.Context, now time.Time) ([]domain.Item, error) {
	return s.filter(func(it domain.Item) bool { return it.Lapsed(now) }), nil
}

// ListClosedItems returns items closed at or after since, oldest closure first.
func (s *Store) ListClosedItems(_ context.Context, since time.Time, limit int) ([]domain.Item, error) {
	items := s.filter(func(it domain.Item) bool {
		return it.Closed && it.ClosedAt != nil && !it.ClosedAt.Before(since)
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].ClosedAt.Before(*items[j].ClosedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) filter(keep func(domain.Item) bool) []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.items))
	for _, rec := range s.items {
		if keep(rec.item) {
			out = append(out, rec.item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return out
}

// CommitBid locks the item, runs admit and applies the bid.
func (s *Store) CommitBid(_ context.Context, bid domain.Bid, admit domain.AdmitFunc) (domain.Item, error) {
	s.mu.RLock()
	rec, ok := s.items[bid.ItemID]
	s.mu.RUnlock()
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	prev := rec.item
	if err := admit(prev, &bid); err != nil {
		return domain.Item{}, err
	}

	amount := bid.Amount
	bidder := bid.BidderID

	s.mu.Lock()
	rec.item.CurrentBid = &amount
	rec.item.HighBidderID = &bidder
	s.bids[bid.ItemID] = append(s.bids[bid.ItemID], bid)
	s.mu.Unlock()

	return prev, nil
}

// CloseItem closes the item if it is still open. The winner is decided on
// the bids read while the per-item lock is held.
func (s *Store) CloseItem(_ context.Context, id int64, at time.Time, decide domain.CloseFunc) ([]domain.Bid, bool, error) {
	s.mu.RLock()
	rec, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, domain.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.item.Closed {
		return nil, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bids := sortedBids(s.bids[id])
	var winnerID *int64
	if w := decide(bids); w != nil {
		winner := *w
		winnerID = &winner
	}
	closedAt := at.UTC()
	rec.item.Closed = true
	rec.item.WinnerID = winnerID
	rec.item.ClosedAt = &closedAt
	return bids, true, nil
}

// sortedBids copies bids oldest first. Callers hold s.mu.
func sortedBids(bids []domain.Bid) []domain.Bid {
	out := make([]domain.Bid, len(bids))
	copy(out, bids)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListBids returns the bids on an item, oldest first.
func (s *Store) ListBids(_ context.Context, itemID int64) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[itemID]; !ok {
		return nil, domain.ErrNotFound
	}
	return sortedBids(s.bids[itemID]), nil
}

// ListBidsByBidder returns a bidder's bids, newest first.
func (s *Store) ListBidsByBidder(_ context.Context, bidderID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	s.mu.RLock()
	var out []domain.Bid
	for _, bids := range s.bids {
		for _, b := range bids {
			if b.BidderID == bidderID && inWindow(b.CreatedAt, opts) {
				out = append(out, b)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ListBidders returns the distinct bidders on an item in order of first bid.
func (s *Store) ListBidders(ctx context.Context, itemID int64) ([]int64, error) {
	bids, err := s.ListBids(ctx, itemID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, b := range bids {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			out = append(out, b.BidderID)
		}
	}
	return out, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// GetUsers returns the users that exist among ids.
func (s *Store) GetUsers(_ context.Context, ids []int64) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// inWindow applies ListOpts.Since and Until, both inclusive, the way the
// postgres store's windowed queries do.
func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

// Compile-time interface checks.
var (
	_ domain.AuctionStore = (*Store)(nil)
	_ domain.UserStore    = (*Store)(nil)
)
