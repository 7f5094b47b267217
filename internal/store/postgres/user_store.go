package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetUser returns one account by id.
func (s *UserStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	const query = `SELECT id, email, name, role FROM users WHERE id = $1`
	var u domain.User
	var role string
	err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %d: %w", id, err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

// GetUsers returns the accounts for ids. Unknown ids are skipped.
func (s *UserStore) GetUsers(ctx context.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, email, name, role FROM users WHERE id = ANY($1) ORDER BY id`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get users rows: %w", err)
	}
	return users, nil
}

// UpsertUser creates or updates an account. It is used by seeding and tests;
// accounts are otherwise managed by the identity service.
func (s *UserStore) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	const query = `
		INSERT INTO users (email, name, role) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
		RETURNING id`
	if err := s.pool.QueryRow(ctx, query, u.Email, u.Name, string(u.Role)).Scan(&u.ID); err != nil {
		return domain.User{}, fmt.Errorf("postgres: upsert user %s: %w", u.Email, err)
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
