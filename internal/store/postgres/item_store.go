package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const itemColumns = `id, name, start_time, end_time, start_price, current_bid,
	high_bidder_id, closed, winner_id, closed_at, created_at`

const bidColumns = `id::text, item_id, bidder_id, amount, created_at`

// ItemStore implements domain.AuctionStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

// CreateItem inserts a new item and returns it with its assigned id.
func (s *ItemStore) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if err := item.Validate(); err != nil {
		return domain.Item{}, fmt.Errorf("postgres: create item: %w", err)
	}

	const query = `
		INSERT INTO items (name, start_time, end_time, start_price)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + itemColumns

	created, err := scanItem(s.pool.QueryRow(ctx, query,
		item.Name, item.StartTime.UTC(), item.EndTime.UTC(), item.StartPrice,
	))
	if err != nil {
		return domain.Item{}, fmt.Errorf("postgres: create item: %w", err)
	}
	return created, nil
}

// GetItem returns a single item by id.
func (s *ItemStore) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	it, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	return it, nil
}

// ListOpenItems returns every item not yet closed, soonest end first.
func (s *ItemStore) ListOpenItems(ctx context.Context) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE NOT closed ORDER BY end_time, id`
	return s.queryItems(ctx, "list open items", query)
}

// ListLapsedItems returns open items whose end time is at or before now.
func (s *ItemStore) ListLapsedItems(ctx context.Context, now time.Time) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + `
		FROM items
		WHERE NOT closed AND end_time <= $1
		ORDER BY end_time, id`
	return s.queryItems(ctx, "list lapsed items", query, now.UTC())
}

// ListClosedItems returns items closed at or after since, oldest closure
// first. A non-positive limit returns all of them.
func (s *ItemStore) ListClosedItems(ctx context.Context, since time.Time, limit int) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + `
		FROM items
		WHERE closed AND closed_at >= $1
		ORDER BY closed_at, id`
	args := []any{since.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryItems(ctx, "list closed items", query, args...)
}

// CommitBid locks the item row, runs admit against it and, when admitted,
// applies the bid in the same transaction.
func (s *ItemStore) CommitBid(ctx context.Context, bid domain.Bid, admit domain.AdmitFunc) (domain.Item, error) {
	bidID, err := uuid.Parse(bid.ID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("postgres: commit bid: bad bid id %q: %w", bid.ID, err)
	}

	var prev domain.Item
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
		it, err := scanItem(tx.QueryRow(ctx, query, bid.ItemID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock item %d: %w", bid.ItemID, err)
		}

		if err := admit(it, &bid); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE items SET current_bid = $2, high_bidder_id = $3 WHERE id = $1`,
			bid.ItemID, bid.Amount, bid.BidderID,
		); err != nil {
			return fmt.Errorf("postgres: update item %d: %w", bid.ItemID, err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO bids (id, item_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
			[16]byte(bidID), bid.ItemID, bid.BidderID, bid.Amount, bid.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("postgres: insert bid on item %d: %w", bid.ItemID, err)
		}

		prev = it
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	return prev, nil
}

// CloseItem takes the same row lock as CommitBid, so under READ COMMITTED
// the bid list read after it includes every bid admitted before the close.
func (s *ItemStore) CloseItem(ctx context.Context, id int64, at time.Time, decide domain.CloseFunc) ([]domain.Bid, bool, error) {
	var (
		bids   []domain.Bid
		closed bool
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var wasClosed bool
		err := tx.QueryRow(ctx, `SELECT closed FROM items WHERE id = $1 FOR UPDATE`, id).Scan(&wasClosed)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: lock item %d: %w", id, err)
		}
		if wasClosed {
			return nil
		}

		rows, err := tx.Query(ctx,
			`SELECT `+bidColumns+` FROM bids WHERE item_id = $1 ORDER BY created_at, id`, id)
		if err != nil {
			return fmt.Errorf("postgres: bids for close %d: %w", id, err)
		}
		bids, err = pgx.CollectRows(rows, scanBidRow)
		if err != nil {
			return fmt.Errorf("postgres: bids for close %d: %w", id, err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE items SET closed = TRUE, winner_id = $2, closed_at = $3 WHERE id = $1`,
			id, decide(bids), at.UTC(),
		); err != nil {
			return fmt.Errorf("postgres: close item %d: %w", id, err)
		}
		closed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return bids, closed, nil
}

// ListBids returns the bids on an item, oldest first.
func (s *ItemStore) ListBids(ctx context.Context, itemID int64) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE item_id = $1 ORDER BY created_at, id`
	bids, err := s.queryBids(ctx, "list bids", query, itemID)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		if err := s.ensureItem(ctx, itemID); err != nil {
			return nil, err
		}
	}
	return bids, nil
}

// ListBidsByBidder returns a bidder's bids across items, newest first.
func (s *ItemStore) ListBidsByBidder(ctx context.Context, bidderID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	query, args := windowed(
		`SELECT `+bidColumns+` FROM bids WHERE bidder_id = $1`,
		"created_at", "created_at DESC, id",
		[]any{bidderID}, opts,
	)
	return s.queryBids(ctx, "list bids by bidder", query, args...)
}

// ListBidders returns the distinct bidders on an item in order of first bid.
func (s *ItemStore) ListBidders(ctx context.Context, itemID int64) ([]int64, error) {
	const query = `
		SELECT bidder_id
		FROM bids
		WHERE item_id = $1
		GROUP BY bidder_id
		ORDER BY MIN(created_at), bidder_id`

	rows, err := s.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bidders %d: %w", itemID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: list bidders %d: %w", itemID, err)
	}
	return ids, nil
}

func (s *ItemStore) ensureItem(ctx context.Context, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check item %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (s *ItemStore) queryItems(ctx context.Context, op, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return items, nil
}

func (s *ItemStore) queryBids(ctx context.Context, op, query string, args ...any) ([]domain.Bid, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBidRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return bids, nil
}

func scanBidRow(row pgx.CollectableRow) (domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.CreatedAt)
	return b, err
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(
		&it.ID, &it.Name, &it.StartTime, &it.EndTime, &it.StartPrice, &it.CurrentBid,
		&it.HighBidderID, &it.Closed, &it.WinnerID, &it.ClosedAt, &it.CreatedAt,
	)
	return it, err
}

var _ domain.AuctionStore = (*ItemStore)(nil)
