package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AdmitFunc inspects the locked, current state of an item inside a bid
// transaction. It may stamp bid (CreatedAt) before the bid is written, so
// timestamps follow commit order. A non-nil error aborts the transaction
// and is returned to the caller unchanged.
type AdmitFunc func(item Item, bid *Bid) error

// CloseFunc picks the winner from every bid on an item, read under the same
// lock CommitBid takes. A nil result closes the item without a winner.
type CloseFunc func(bids []Bid) (winnerID *int64)

// AuctionStore is the transactional store behind items and bids.
//
// CommitBid must serialize with every other CommitBid and CloseItem on the same
// item: it locks the item, runs admit against the locked row and, if admit
// passes, updates the item's current bid and high bidder and inserts the bid
// in one transaction. It returns the item as it was before the bid applied.
//
// CloseItem locks the item like CommitBid does. If the item is still open it
// reads the bids, lets decide pick the winner and flips the item to closed,
// all under that lock, so no bid can commit between the decision and the
// close. It returns the bids decide saw and whether this call performed the
// transition.
type AuctionStore interface {
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListOpenItems(ctx context.Context) ([]Item, error)
	ListLapsedItems(ctx context.Context, now time.Time) ([]Item, error)
	ListClosedItems(ctx context.Context, since time.Time, limit int) ([]Item, error)
	CommitBid(ctx context.Context, bid Bid, admit AdmitFunc) (Item, error)
	CloseItem(ctx context.Context, id int64, at time.Time, decide CloseFunc) (bids []Bid, closed bool, err error)
	ListBids(ctx context.Context, itemID int64) ([]Bid, error)
	ListBidsByBidder(ctx context.Context, bidderID int64, opts ListOpts) ([]Bid, error)
	ListBidders(ctx context.Context, itemID int64) ([]int64, error)
}

// UserStore reads user accounts.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUsers(ctx context.Context, ids []int64) ([]User, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
