package domain

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestDeriveStatus(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name   string
		now    time.Time
		closed bool
		want   ItemStatus
	}{
		{name: "before start", now: start.Add(-time.Second), want: StatusUpcoming},
		{name: "at start", now: start, want: StatusLive},
		{name: "mid auction", now: start.Add(30 * time.Minute), want: StatusLive},
		{name: "at end", now: end, want: StatusClosed},
		{name: "after end", now: end.Add(time.Minute), want: StatusClosed},
		{name: "closed flag wins before start", now: start.Add(-time.Hour), closed: true, want: StatusClosed},
		{name: "closed flag wins mid auction", now: start.Add(time.Minute), closed: true, want: StatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, DeriveStatus(tt.now, start, end, tt.closed))
		})
	}
}

func TestItemLapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	it := Item{ID: 1, StartTime: start, EndTime: start.Add(time.Hour)}

	check.False(t, it.Lapsed(start.Add(time.Minute)))
	check.True(t, it.Lapsed(start.Add(time.Hour)))

	it.Closed = true
	check.False(t, it.Lapsed(start.Add(2*time.Hour)))
}

func TestItemMinimumBid(t *testing.T) {
	it := Item{StartPrice: 100}
	check.Equal(t, int64(100), it.MinimumBid())

	bid := int64(150)
	it.CurrentBid = &bid
	check.Equal(t, int64(150), it.MinimumBid())
}

func TestItemSnapshot(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	high := int64(7)
	bid := int64(220)
	it := Item{
		ID:           3,
		Name:         "Clock",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		StartPrice:   100,
		CurrentBid:   &bid,
		HighBidderID: &high,
	}

	snap := it.Snapshot(start.Add(time.Minute))
	check.Equal(t, int64(3), snap.ItemID)
	check.Equal(t, int64(220), snap.CurrentBid)
	check.Equal(t, StatusLive, snap.Status)
	check.NotNil(t, snap.WonBy)
	check.Equal(t, int64(7), *snap.WonBy)

	// Once closed, won_by reports the recorded winner only.
	it.Closed = true
	it.WinnerID = nil
	snap = it.Snapshot(start.Add(2 * time.Hour))
	check.Equal(t, StatusClosed, snap.Status)
	check.Nil(t, snap.WonBy)
}

func TestRoleCanBid(t *testing.T) {
	check.True(t, RoleUser.CanBid())
	check.False(t, RoleAdmin.CanBid())
}
