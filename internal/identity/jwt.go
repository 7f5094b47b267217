// Package identity issues and verifies the bearer tokens bidders and
// administrators present on the REST and websocket endpoints. Tokens are
// HS256 JWTs whose subject is the numeric user id and whose "role" claim is
// the user's role.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DefaultTTL is the lifetime of issued tokens when none is configured.
const DefaultTTL = 30 * time.Minute

// Claims is the JWT payload.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Config configures a Tokens instance.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Tokens signs and verifies tokens with a shared secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
	users  domain.UserStore
	now    func() time.Time
}

// New creates a Tokens. The secret must not be empty.
func New(cfg Config) (*Tokens, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: empty signing secret")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	t.parser = t.newParser(cfg.Leeway)
	return t, nil
}

func (t *Tokens) newParser(leeway time.Duration) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	return jwt.NewParser(opts...)
}

// WithUsers makes Resolve confirm the user still exists and take the role
// from the account rather than from the token.
func (t *Tokens) WithUsers(users domain.UserStore) *Tokens {
	t.users = users
	return t
}

// Issue mints a token for the given user and role.
func (t *Tokens) Issue(userID int64, role domain.Role) (string, time.Time, error) {
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return "", time.Time{}, fmt.Errorf("identity: unknown role %q", role)
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign: %w", err)
	}
	return signed, exp, nil
}

// Resolve verifies token and returns the caller's identity. Every failure
// wraps domain.ErrUnauthorized.
func (t *Tokens) Resolve(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("identity: %w: missing token", domain.ErrUnauthorized)
	}

	var claims Claims
	if _, err := t.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return domain.Identity{}, fmt.Errorf("identity: %w: %v", domain.ErrUnauthorized, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Identity{}, fmt.Errorf("identity: %w: bad subject %q", domain.ErrUnauthorized, claims.Subject)
	}
	who := domain.Identity{UserID: id, Role: claims.Role}

	if t.users != nil {
		u, err := t.users.GetUser(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("identity: %w: unknown user %d", domain.ErrUnauthorized, id)
		}
		if err != nil {
			return domain.Identity{}, fmt.Errorf("identity: lookup user %d: %w", id, err)
		}
		who.Role = u.Role
	}

	if who.Role != domain.RoleAdmin && who.Role != domain.RoleUser {
		return domain.Identity{}, fmt.Errorf("identity: %w: unknown role %q", domain.ErrUnauthorized, who.Role)
	}
	return who, nil
}
