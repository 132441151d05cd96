// Package domain defines the core types of the auction protocol: auctions,
// bids, decoded outcomes, and the store/bus interfaces implemented by the
// postgres and redis packages.
package domain

import (
	"math/big"
	"time"
)

// AuctionStatus tracks the auction lifecycle. Requested and open are the only
// states that accept protocol traffic; the rest are settlement or terminal
// failure states.
type AuctionStatus string

const (
	AuctionStatusRequested AuctionStatus = "requested"
	AuctionStatusOpen      AuctionStatus = "open"
	AuctionStatusResolving AuctionStatus = "resolving"
	AuctionStatusSettled   AuctionStatus = "settled"
	AuctionStatusExpired   AuctionStatus = "expired"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionStatusSettled, AuctionStatusExpired, AuctionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Expiry and cancellation are reachable from any non-terminal state.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case AuctionStatusExpired, AuctionStatusCancelled:
		return true
	case AuctionStatusOpen:
		return s == AuctionStatusRequested
	case AuctionStatusResolving:
		return s == AuctionStatusOpen
	case AuctionStatusSettled:
		return s == AuctionStatusResolving
	default:
		return false
	}
}

// Auction is a taker's collateralized wager request. The relay owns the
// authoritative copy; clients hold a read-only projection keyed by ID.
type Auction struct {
	ID                string
	Taker             string   // 0x hex address
	Wager             *big.Int // wei
	Resolver          string   // 0x hex address
	PredictedOutcomes []string // 0x hex encoded outcome blobs; protocol uses the first
	Deadline          time.Time
	Status            AuctionStatus
	ChainID           int64
	CreatedAt         time.Time
}

// Expired reports whether the auction deadline has passed at the given time.
func (a Auction) Expired(now time.Time) bool {
	return !a.Deadline.IsZero() && now.After(a.Deadline)
}
