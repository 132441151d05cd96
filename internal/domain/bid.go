package domain

import (
	"math/big"
	"time"
)

// ValidationStatus is the verification outcome stamped on a bid after its
// signature has been checked. It is the only field of a Bid that mutates
// after receipt.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// Bid is a maker's signed commitment against an open auction. Bids are
// append-only per auction; wager, deadline, nonce, and signature are frozen
// at receipt.
type Bid struct {
	ID               string
	AuctionID        string
	Maker            string   // 0x hex address
	MakerWager       *big.Int // wei
	MakerDeadline    int64    // unix seconds
	MakerNonce       uint64
	Signature        string // 0x hex, 65 bytes
	ValidationStatus ValidationStatus
	ReceivedAt       time.Time
}

// Candidate reports whether the bid may participate in winner selection at
// the given time: it must have verified as valid and its maker deadline must
// still be in the future. Invalid bids are never candidates, for any
// candidate-set computation.
func (b Bid) Candidate(now time.Time) bool {
	return b.ValidationStatus == ValidationValid && b.MakerDeadline > now.Unix()
}
