package domain

import "time"

// Bid is an immutable record of one accepted offer.
type Bid struct {
	ID        string    `json:"id"`
	ItemID    int64     `json:"item_id"`
	BidderID  int64     `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is the authorization class of a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// CanBid reports whether the role may place bids. Administrators never bid.
func (r Role) CanBid() bool {
	return r != RoleAdmin
}

// User is a registered account. Accounts are managed elsewhere; the auction
// core only reads them to address notifications.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Identity is a verified caller resolved from a bearer credential.
type Identity struct {
	UserID int64
	Role   Role
}
