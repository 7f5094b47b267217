package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

func newTokens(t *testing.T) *Tokens {
	t.Helper()
	tok, err := New(Config{Secret: "s3cret", Issuer: "auctiond", TTL: time.Hour})
	assert.NoError(t, err)
	return tok
}

func TestIssueResolve(t *testing.T) {
	tok := newTokens(t)
	ctx := context.Background()

	signed, exp, err := tok.Issue(42, domain.RoleUser)
	assert.NoError(t, err)
	check.True(t, exp.After(time.Now()))

	who, err := tok.Resolve(ctx, signed)
	assert.NoError(t, err)
	check.Equal(t, int64(42), who.UserID)
	check.Equal(t, domain.RoleUser, who.Role)

	admin, _, err := tok.Issue(1, domain.RoleAdmin)
	assert.NoError(t, err)
	who, err = tok.Resolve(ctx, admin)
	assert.NoError(t, err)
	check.False(t, who.Role.CanBid())
}

func TestResolveRejects(t *testing.T) {
	tok := newTokens(t)
	ctx := context.Background()
	good, _, err := tok.Issue(7, domain.RoleUser)
	assert.NoError(t, err)

	other, err := New(Config{Secret: "different", Issuer: "auctiond"})
	assert.NoError(t, err)
	forged, _, err := other.Issue(7, domain.RoleAdmin)
	assert.NoError(t, err)

	wrongIssuer, err := New(Config{Secret: "s3cret", Issuer: "elsewhere"})
	assert.NoError(t, err)
	foreign, _, err := wrongIssuer.Issue(7, domain.RoleUser)
	assert.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "7", "role": "admin", "iss": "auctiond", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"truncated":    good[:len(good)-4],
		"wrong secret": forged,
		"wrong issuer": foreign,
		"alg none":     none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tok.Resolve(ctx, token)
			check.True(t, errors.Is(err, domain.ErrUnauthorized))
		})
	}
}

func TestResolveExpired(t *testing.T) {
	tok := newTokens(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok.now = func() time.Time { return issued }
	signed, _, err := tok.Issue(5, domain.RoleUser)
	assert.NoError(t, err)

	tok.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = tok.Resolve(context.Background(), signed)
	assert.NoError(t, err)

	tok.now = func() time.Time { return issued.Add(61 * time.Minute) }
	_, err = tok.Resolve(context.Background(), signed)
	check.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestResolveWithUsers(t *testing.T) {
	users := memory.New()
	users.PutUser(domain.User{ID: 3, Email: "c@example.test", Role: domain.RoleAdmin})
	tok := newTokens(t).WithUsers(users)
	ctx := context.Background()

	// The account's role wins over the claim.
	signed, _, err := tok.Issue(3, domain.RoleUser)
	assert.NoError(t, err)
	who, err := tok.Resolve(ctx, signed)
	assert.NoError(t, err)
	check.Equal(t, domain.RoleAdmin, who.Role)

	ghost, _, err := tok.Issue(99, domain.RoleUser)
	assert.NoError(t, err)
	_, err = tok.Resolve(ctx, ghost)
	check.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, _, err := newTokens(t).Issue(1, domain.Role("superuser"))
	check.Error(t, err)

	_, err = New(Config{})
	check.Error(t, err)
}
