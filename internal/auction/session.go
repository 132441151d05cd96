// Package auction owns per-auction state from creation to resolution: the
// lifecycle state machine, append-only bid accumulation with independent
// verification, and single-winner selection. The same Session type backs the
// relay's engine and the client's tracker.
package auction

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/engsudal909/sapience-1-sub012/internal/crypto"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// BidVerifier checks a bid signature against its canonical payload.
// Implemented by crypto.Verifier.
type BidVerifier interface {
	VerifyBid(p crypto.BidPayload, sigHex string) domain.ValidationStatus
}

// Session tracks one auction. Bids are append-only; after receipt only
// their validation status changes.
type Session struct {
	mu       sync.Mutex
	auction  domain.Auction
	bids     []domain.Bid
	verifier BidVerifier
	clock    func() time.Time
}

// NewSession creates a Session for the given auction projection. A zero
// status is treated as open.
func NewSession(a domain.Auction, verifier BidVerifier) *Session {
	if a.Status == "" {
		a.Status = domain.AuctionStatusOpen
	}
	return &Session{
		auction:  a,
		verifier: verifier,
		clock:    time.Now,
	}
}

// Auction returns a copy of the auction projection.
func (s *Session) Auction() domain.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auction
}

// Status returns the current lifecycle state.
func (s *Session) Status() domain.AuctionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auction.Status
}

// AddBid verifies and appends a bid, returning it with its validation
// status stamped. Bids arriving pre-stamped (already verified by the relay)
// are re-verified when a verifier is present; verification failures only
// downgrade status, they never reject the append. The only error is an
// auction closed to new bids.
func (s *Session) AddBid(b domain.Bid) (domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auction.Status != domain.AuctionStatusOpen {
		return domain.Bid{}, fmt.Errorf("auction %s: %w", s.auction.ID, domain.ErrAuctionClosed)
	}

	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = s.clock()
	}
	if s.verifier != nil {
		payload, err := bidPayload(s.auction, b)
		if err != nil {
			b.ValidationStatus = domain.ValidationInvalid
		} else {
			b.ValidationStatus = s.verifier.VerifyBid(payload, b.Signature)
		}
	} else if b.ValidationStatus == "" {
		b.ValidationStatus = domain.ValidationPending
	}

	s.bids = append(s.bids, b)
	return b, nil
}

// Bids returns every received bid, invalid ones included, for audit and
// display. The slice is a copy.
func (s *Session) Bids() []domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bid, len(s.bids))
	copy(out, s.bids)
	return out
}

// Candidates returns the bids eligible for selection at the given time:
// valid signature and a maker deadline still in the future.
func (s *Session) Candidates(now time.Time) []domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bid
	for _, b := range s.bids {
		if b.Candidate(now) {
			out = append(out, b)
		}
	}
	return out
}

// Winner selects the candidate offering the greatest maker wager, breaking
// ties by earliest receipt. ok is false when no candidate exists.
func (s *Session) Winner(now time.Time) (winner domain.Bid, ok bool) {
	for _, b := range s.Candidates(now) {
		if !ok || better(b, winner) {
			winner, ok = b, true
		}
	}
	return winner, ok
}

func better(b, than domain.Bid) bool {
	switch b.MakerWager.Cmp(than.MakerWager) {
	case 1:
		return true
	case -1:
		return false
	default:
		return b.ReceivedAt.Before(than.ReceivedAt)
	}
}

// Transition moves the auction to the next lifecycle state, rejecting
// illegal steps.
func (s *Session) Transition(next domain.AuctionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.auction.Status.CanTransition(next) {
		return fmt.Errorf("auction %s: %s -> %s: %w",
			s.auction.ID, s.auction.Status, next, domain.ErrBadTransition)
	}
	s.auction.Status = next
	return nil
}

// ExpireIfDue transitions an open auction to expired when its deadline has
// passed with no selection candidate. It reports whether the transition
// happened.
func (s *Session) ExpireIfDue(now time.Time) bool {
	if s.Status() != domain.AuctionStatusOpen {
		return false
	}
	s.mu.Lock()
	due := s.auction.Expired(now)
	s.mu.Unlock()
	if !due {
		return false
	}
	if _, ok := s.Winner(now); ok {
		return false
	}
	return s.Transition(domain.AuctionStatusExpired) == nil
}

// bidPayload assembles the canonical signed tuple for a bid against this
// auction. The auction's first predicted-outcomes blob is the one covered
// by the signature, per the single-blob protocol convention.
func bidPayload(a domain.Auction, b domain.Bid) (crypto.BidPayload, error) {
	if len(a.PredictedOutcomes) == 0 {
		return crypto.BidPayload{}, fmt.Errorf("auction %s: no predicted outcomes: %w", a.ID, domain.ErrInvalidRequest)
	}
	blob, err := hexutil.Decode(a.PredictedOutcomes[0])
	if err != nil {
		return crypto.BidPayload{}, fmt.Errorf("auction %s: outcome blob: %w", a.ID, err)
	}
	if a.Wager == nil || b.MakerWager == nil {
		return crypto.BidPayload{}, fmt.Errorf("auction %s: missing wager: %w", a.ID, domain.ErrInvalidRequest)
	}
	return crypto.BidPayload{
		PredictedOutcomes: blob,
		TakerWager:        a.Wager,
		AuctionWager:      b.MakerWager,
		Resolver:          common.HexToAddress(a.Resolver),
		Maker:             common.HexToAddress(b.Maker),
		Deadline:          big.NewInt(b.MakerDeadline),
	}, nil
}
