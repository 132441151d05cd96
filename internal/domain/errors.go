package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidRequest   = errors.New("invalid request parameters")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSigningFailed    = errors.New("signing failed")
	ErrAuctionClosed    = errors.New("auction closed to new bids")
	ErrBadTransition    = errors.New("illegal state transition")
	ErrConnClosed       = errors.New("connection closed")
	ErrQueueFull        = errors.New("outbound queue full")
	ErrContextDone      = errors.New("context cancelled")
)
