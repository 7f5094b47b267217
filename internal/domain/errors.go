package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAuctionClosed    = errors.New("auction is not open for bidding")
	ErrBidTooLow        = errors.New("bid must exceed the current bid")
	ErrInvalidItem      = errors.New("invalid item")
	ErrLockHeld         = errors.New("lock already held")
)
