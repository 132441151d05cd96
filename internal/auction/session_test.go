package auction

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/engsudal909/sapience-1-sub012/internal/crypto"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

var baseTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

// stampVerifier stamps every bid with a fixed status, keyed off nothing.
type stampVerifier struct {
	status domain.ValidationStatus
}

func (v stampVerifier) VerifyBid(crypto.BidPayload, string) domain.ValidationStatus {
	return v.status
}

func openAuction() domain.Auction {
	return domain.Auction{
		ID:                "auc-1",
		Taker:             "0x00000000000000000000000000000000000000aa",
		Wager:             big.NewInt(1_000_000),
		Resolver:          "0x00000000000000000000000000000000000000bb",
		PredictedOutcomes: []string{"0x0102030405"},
		Deadline:          baseTime.Add(5 * time.Minute),
		Status:            domain.AuctionStatusOpen,
		ChainID:           42161,
	}
}

func bidAt(maker string, wager int64, deadline int64, received time.Time) domain.Bid {
	return domain.Bid{
		ID:            "bid-" + maker,
		AuctionID:     "auc-1",
		Maker:         maker,
		MakerWager:    big.NewInt(wager),
		MakerDeadline: deadline,
		Signature:     "0xsig",
		ReceivedAt:    received,
	}
}

func TestWinnerPicksGreatestWager(t *testing.T) {
	s := NewSession(openAuction(), stampVerifier{domain.ValidationValid})
	future := baseTime.Add(time.Hour).Unix()

	for i, wager := range []int64{500, 900, 700} {
		b := bidAt(string(rune('a'+i)), wager, future, baseTime.Add(time.Duration(i)*time.Second))
		if _, err := s.AddBid(b); err != nil {
			t.Fatalf("AddBid: %v", err)
		}
	}

	winner, ok := s.Winner(baseTime.Add(time.Minute))
	if !ok {
		t.Fatal("Winner found no candidate")
	}
	if winner.MakerWager.Int64() != 900 {
		t.Errorf("winner wager = %d, want 900", winner.MakerWager.Int64())
	}
}

func TestWinnerTieBreaksByArrival(t *testing.T) {
	s := NewSession(openAuction(), stampVerifier{domain.ValidationValid})
	future := baseTime.Add(time.Hour).Unix()

	late := bidAt("late", 700, future, baseTime.Add(10*time.Second))
	early := bidAt("early", 700, future, baseTime.Add(2*time.Second))
	if _, err := s.AddBid(late); err != nil {
		t.Fatalf("AddBid: %v", err)
	}
	if _, err := s.AddBid(early); err != nil {
		t.Fatalf("AddBid: %v", err)
	}

	winner, ok := s.Winner(baseTime.Add(time.Minute))
	if !ok {
		t.Fatal("Winner found no candidate")
	}
	if winner.Maker != "early" {
		t.Errorf("winner = %s, want early", winner.Maker)
	}
}

func TestCandidatesExcludeInvalidAndExpired(t *testing.T) {
	s := NewSession(openAuction(), nil)
	now := baseTime.Add(time.Minute)

	valid := bidAt("valid", 100, now.Add(time.Hour).Unix(), baseTime)
	valid.ValidationStatus = domain.ValidationValid
	invalid := bidAt("invalid", 900, now.Add(time.Hour).Unix(), baseTime)
	invalid.ValidationStatus = domain.ValidationInvalid
	pending := bidAt("pending", 800, now.Add(time.Hour).Unix(), baseTime)
	pending.ValidationStatus = domain.ValidationPending
	lapsed := bidAt("lapsed", 700, now.Add(-time.Second).Unix(), baseTime)
	lapsed.ValidationStatus = domain.ValidationValid

	for _, b := range []domain.Bid{valid, invalid, pending, lapsed} {
		if _, err := s.AddBid(b); err != nil {
			t.Fatalf("AddBid(%s): %v", b.Maker, err)
		}
	}

	cands := s.Candidates(now)
	if len(cands) != 1 || cands[0].Maker != "valid" {
		t.Fatalf("Candidates = %v, want just the valid bid", cands)
	}

	// All four stay on the audit trail regardless.
	if got := len(s.Bids()); got != 4 {
		t.Errorf("Bids() = %d entries, want 4", got)
	}

	winner, ok := s.Winner(now)
	if !ok || winner.Maker != "valid" {
		t.Errorf("Winner = %v ok=%v, want the valid bid", winner, ok)
	}
}

func TestAddBidVerifierStamps(t *testing.T) {
	s := NewSession(openAuction(), stampVerifier{domain.ValidationInvalid})
	b, err := s.AddBid(bidAt("m", 100, baseTime.Add(time.Hour).Unix(), baseTime))
	if err != nil {
		t.Fatalf("AddBid: %v", err)
	}
	// Verification failure downgrades, never rejects.
	if b.ValidationStatus != domain.ValidationInvalid {
		t.Errorf("status = %s, want %s", b.ValidationStatus, domain.ValidationInvalid)
	}
	if got := len(s.Bids()); got != 1 {
		t.Errorf("Bids() = %d entries, want 1", got)
	}
}

func TestAddBidClosedAuction(t *testing.T) {
	s := NewSession(openAuction(), nil)
	if err := s.Transition(domain.AuctionStatusResolving); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	_, err := s.AddBid(bidAt("m", 100, baseTime.Add(time.Hour).Unix(), baseTime))
	if !errors.Is(err, domain.ErrAuctionClosed) {
		t.Errorf("AddBid err = %v, want ErrAuctionClosed", err)
	}
}

func TestTransitions(t *testing.T) {
	s := NewSession(openAuction(), nil)

	if err := s.Transition(domain.AuctionStatusSettled); !errors.Is(err, domain.ErrBadTransition) {
		t.Errorf("open -> settled err = %v, want ErrBadTransition", err)
	}
	if err := s.Transition(domain.AuctionStatusResolving); err != nil {
		t.Fatalf("open -> resolving: %v", err)
	}
	if err := s.Transition(domain.AuctionStatusSettled); err != nil {
		t.Fatalf("resolving -> settled: %v", err)
	}
	// Terminal states are sticky.
	if err := s.Transition(domain.AuctionStatusCancelled); !errors.Is(err, domain.ErrBadTransition) {
		t.Errorf("settled -> cancelled err = %v, want ErrBadTransition", err)
	}
}

func TestExpireIfDue(t *testing.T) {
	s := NewSession(openAuction(), stampVerifier{domain.ValidationValid})

	// Not yet due.
	if s.ExpireIfDue(baseTime.Add(time.Minute)) {
		t.Error("ExpireIfDue fired before the deadline")
	}

	// Due with a live candidate: stays open, winner pending resolution.
	if _, err := s.AddBid(bidAt("m", 100, baseTime.Add(time.Hour).Unix(), baseTime)); err != nil {
		t.Fatalf("AddBid: %v", err)
	}
	if s.ExpireIfDue(baseTime.Add(10 * time.Minute)) {
		t.Error("ExpireIfDue fired despite a candidate")
	}
	if got := s.Status(); got != domain.AuctionStatusOpen {
		t.Errorf("status = %s, want open", got)
	}
}

func TestExpireIfDueNoCandidates(t *testing.T) {
	s := NewSession(openAuction(), stampVerifier{domain.ValidationInvalid})
	if _, err := s.AddBid(bidAt("m", 100, baseTime.Add(time.Hour).Unix(), baseTime)); err != nil {
		t.Fatalf("AddBid: %v", err)
	}

	if !s.ExpireIfDue(baseTime.Add(10 * time.Minute)) {
		t.Fatal("ExpireIfDue did not fire on a bidless deadline")
	}
	if got := s.Status(); got != domain.AuctionStatusExpired {
		t.Errorf("status = %s, want expired", got)
	}
	// Idempotent.
	if s.ExpireIfDue(baseTime.Add(11 * time.Minute)) {
		t.Error("ExpireIfDue fired twice")
	}
}
