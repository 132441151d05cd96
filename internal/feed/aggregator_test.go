package feed

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
	"github.com/engsudal909/sapience-1-sub012/internal/transport"
)

var feedBase = time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

// newTestAggregator returns an aggregator on an unconnected transport with
// a caller-controlled clock. Outbound subscribe frames simply queue.
func newTestAggregator(t *testing.T, now *time.Time, opts ...Option) *Aggregator {
	t.Helper()
	conn := transport.Dial(transport.Config{URL: "ws://127.0.0.1:1/ws"})
	t.Cleanup(func() { _ = conn.Close() })
	a := NewAggregator(conn, nil, opts...)
	t.Cleanup(a.Close)
	a.clock = func() time.Time { return *now }
	return a
}

func entryAt(auctionID string, wager int64, at time.Time) Entry {
	return Entry{
		AuctionID: auctionID,
		Bid: domain.Bid{
			ID:         fmt.Sprintf("bid-%s-%d", auctionID, wager),
			AuctionID:  auctionID,
			Maker:      "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			MakerWager: big.NewInt(wager),
			ReceivedAt: at,
		},
	}
}

func TestRecentNewestFirst(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now)

	a.append(entryAt("a1", 100, now))
	a.append(entryAt("a1", 200, now.Add(time.Second)))
	a.append(entryAt("a2", 300, now.Add(2*time.Second)))
	now = now.Add(2 * time.Second)

	got := a.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries, want 3", len(got))
	}
	wantWagers := []int64{300, 200, 100}
	for i, w := range wantWagers {
		if got[i].Bid.MakerWager.Int64() != w {
			t.Errorf("Recent[%d] wager = %s, want %d", i, got[i].Bid.MakerWager, w)
		}
	}

	limited := a.Recent(2)
	if len(limited) != 2 || limited[0].Bid.MakerWager.Int64() != 300 {
		t.Errorf("Recent(2) = %d entries starting at %s, want 2 starting at 300",
			len(limited), limited[0].Bid.MakerWager)
	}
}

func TestWindowEviction(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now, WithWindow(time.Minute))

	a.append(entryAt("a1", 1, now))
	a.append(entryAt("a1", 2, now.Add(30*time.Second)))
	if got := a.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	// 70s later the first entry is past the window; the second is not.
	now = feedBase.Add(70 * time.Second)
	got := a.Recent(0)
	if len(got) != 1 || got[0].Bid.MakerWager.Int64() != 2 {
		t.Fatalf("after window lapse Recent = %v, want only wager 2", got)
	}

	now = feedBase.Add(5 * time.Minute)
	if got := a.Len(); got != 0 {
		t.Errorf("Len after full lapse = %d, want 0", got)
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now, WithCap(3))

	for i := int64(1); i <= 5; i++ {
		a.append(entryAt("a1", i, now.Add(time.Duration(i)*time.Second)))
	}

	got := a.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries, want cap 3", len(got))
	}
	wantWagers := []int64{5, 4, 3}
	for i, w := range wantWagers {
		if got[i].Bid.MakerWager.Int64() != w {
			t.Errorf("Recent[%d] wager = %s, want %d", i, got[i].Bid.MakerWager, w)
		}
	}
}

func TestCompactionKeepsLiveEntries(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now, WithCap(4))

	// Enough churn to force the dead prefix past the compaction threshold
	// several times over.
	for i := int64(1); i <= 50; i++ {
		a.append(entryAt("a1", i, now.Add(time.Duration(i)*time.Second)))
	}

	got := a.Recent(0)
	if len(got) != 4 {
		t.Fatalf("Recent returned %d entries, want 4", len(got))
	}
	for i, w := range []int64{50, 49, 48, 47} {
		if got[i].Bid.MakerWager.Int64() != w {
			t.Errorf("Recent[%d] wager = %s, want %d", i, got[i].Bid.MakerWager, w)
		}
	}
}

func TestRecentForAuction(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now)

	a.append(entryAt("a1", 10, now))
	a.append(entryAt("a2", 20, now.Add(time.Second)))
	a.append(entryAt("a1", 30, now.Add(2*time.Second)))
	now = now.Add(2 * time.Second)

	got := a.RecentForAuction("a1", 0)
	if len(got) != 2 || got[0].Bid.MakerWager.Int64() != 30 || got[1].Bid.MakerWager.Int64() != 10 {
		t.Fatalf("RecentForAuction(a1) = %v, want wagers 30, 10", got)
	}
	if got := a.RecentForAuction("a1", 1); len(got) != 1 || got[0].Bid.MakerWager.Int64() != 30 {
		t.Errorf("RecentForAuction(a1, 1) = %v, want only wager 30", got)
	}
	if got := a.RecentForAuction("missing", 0); len(got) != 0 {
		t.Errorf("RecentForAuction(missing) = %v, want empty", got)
	}
}

func TestStartedFrameAutoSubscribes(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now)

	frame, err := codec.EncodeScoped(codec.TypeAuctionStarted, "a9", codec.StartedEvent{
		AuctionID: "a9",
		Taker:     "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Wager:     "1000000",
	})
	if err != nil {
		t.Fatalf("EncodeScoped: %v", err)
	}
	a.handleFrame(frame)

	if !a.Subscribed("a9") {
		t.Error("auction.started did not subscribe the auction")
	}
	if a.Subscribed("other") {
		t.Error("unrelated auction reported subscribed")
	}
}

func TestBidFrameAppended(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now)

	frame, err := codec.EncodeScoped(codec.TypeAuctionBid, "a7", codec.BidEvent{
		ID:               "b1",
		AuctionID:        "a7",
		Maker:            "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		MakerWager:       "2500000",
		MakerNonce:       4,
		Signature:        "0xdeadbeef",
		ValidationStatus: string(domain.ValidationValid),
		ReceivedAt:       now.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("EncodeScoped: %v", err)
	}
	a.handleFrame(frame)

	got := a.Recent(0)
	if len(got) != 1 {
		t.Fatalf("Recent returned %d entries, want 1", len(got))
	}
	e := got[0]
	if e.AuctionID != "a7" || e.Bid.ID != "b1" {
		t.Errorf("entry = %+v, want auction a7 bid b1", e)
	}
	if e.Bid.MakerWager.String() != "2500000" {
		t.Errorf("MakerWager = %s, want 2500000", e.Bid.MakerWager)
	}
	if !e.Bid.ReceivedAt.Equal(time.UnixMilli(now.UnixMilli())) {
		t.Errorf("ReceivedAt = %v, want %v", e.Bid.ReceivedAt, now)
	}
	if e.Bid.ValidationStatus != domain.ValidationValid {
		t.Errorf("ValidationStatus = %s, want valid", e.Bid.ValidationStatus)
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	now := feedBase
	a := newTestAggregator(t, &now)

	for _, raw := range []string{
		"",
		"not json",
		`{"type":"auction.bid","auctionId":"a1","payload":{"makerWager":"not a number"}}`,
		`{"type":"auction.started","payload":{}}`,
	} {
		a.handleFrame([]byte(raw))
	}

	if got := a.Len(); got != 0 {
		t.Errorf("Len = %d after malformed frames, want 0", got)
	}
	if len(a.subscribed) != 0 {
		t.Errorf("subscribed = %v after malformed frames, want empty", a.subscribed)
	}
}
