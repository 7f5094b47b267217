package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus is the lifecycle state of an auction item as seen by bidders.
type ItemStatus string

const (
	StatusUpcoming ItemStatus = "upcoming"
	StatusLive     ItemStatus = "live"
	StatusClosed   ItemStatus = "closed"
)

// DeriveStatus is the single place where an item's lifecycle status is
// computed. An item whose end time has passed reports closed even when the
// finalizer has not flipped the stored flag yet.
func DeriveStatus(now, start, end time.Time, closed bool) ItemStatus {
	switch {
	case closed:
		return StatusClosed
	case now.Before(start):
		return StatusUpcoming
	case !now.Before(end):
		return StatusClosed
	default:
		return StatusLive
	}
}

// Item is an auction lot. CurrentBid and HighBidderID are nil until the first
// accepted bid; WinnerID is only ever set together with Closed.
type Item struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	StartPrice   int64      `json:"start_price"`
	CurrentBid   *int64     `json:"current_bid,omitempty"`
	HighBidderID *int64     `json:"high_bidder_id,omitempty"`
	Closed       bool       `json:"closed"`
	WinnerID     *int64     `json:"winner_id,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Status derives the item's status at now.
func (it Item) Status(now time.Time) ItemStatus {
	return DeriveStatus(now, it.StartTime, it.EndTime, it.Closed)
}

// Lapsed reports whether the item's window has ended but the closed flag has
// not been written yet, i.e. the item is due for finalization.
func (it Item) Lapsed(now time.Time) bool {
	return !it.Closed && !now.Before(it.EndTime)
}

// MinimumBid is the amount a new bid must strictly exceed.
func (it Item) MinimumBid() int64 {
	if it.CurrentBid != nil {
		return *it.CurrentBid
	}
	return it.StartPrice
}

// ItemSnapshot is the public view of an item pushed on the active-items feed
// and returned by the item endpoints.
type ItemSnapshot struct {
	ItemID     int64      `json:"item_id"`
	Name       string     `json:"name"`
	CurrentBid int64      `json:"current_bid"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Status     ItemStatus `json:"status"`
	StartPrice int64      `json:"start_price"`
	WonBy      *int64     `json:"won_by"`
}

// Snapshot renders the item as seen at now. While the auction is open WonBy
// carries the current high bidder; once closed it carries the winner.
func (it Item) Snapshot(now time.Time) ItemSnapshot {
	wonBy := it.HighBidderID
	if it.Closed {
		wonBy = it.WinnerID
	}
	return ItemSnapshot{
		ItemID:     it.ID,
		Name:       it.Name,
		CurrentBid: it.MinimumBid(),
		StartTime:  it.StartTime,
		EndTime:    it.EndTime,
		Status:     it.Status(now),
		StartPrice: it.StartPrice,
		WonBy:      wonBy,
	}
}

// Snapshots renders a list of items at now.
func Snapshots(items []Item, now time.Time) []ItemSnapshot {
	out := make([]ItemSnapshot, 0, len(items))
	for _, it := range items {
		out = append(out, it.Snapshot(now))
	}
	return out
}

// Validate checks the fields a new item must carry.
func (it Item) Validate() error {
	switch {
	case strings.TrimSpace(it.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	case it.StartTime.IsZero() || it.EndTime.IsZero():
		return fmt.Errorf("%w: start and end time are required", ErrInvalidItem)
	case !it.EndTime.After(it.StartTime):
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidItem)
	case it.StartPrice < 0:
		return fmt.Errorf("%w: start price must not be negative", ErrInvalidItem)
	}
	return nil
}
