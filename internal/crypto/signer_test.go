package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// Well-known hardhat test key #0.
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	testChainID  = int64(42161)
	testContract = "0x00000000000000000000000000000000000000aa"
)

func testPayload(t *testing.T) BidPayload {
	t.Helper()
	blob, err := hexutil.Decode("0x0102030405")
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	return BidPayload{
		PredictedOutcomes: blob,
		TakerWager:        big.NewInt(1_000_000),
		AuctionWager:      big.NewInt(2_500_000),
		Resolver:          common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Maker:             common.HexToAddress(testAddress),
		Deadline:          big.NewInt(1_900_000_000),
	}
}

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if got := s.Address().Hex(); got != testAddress {
		t.Errorf("Address() = %s, want %s", got, testAddress)
	}
}

func TestHashBidDeterministic(t *testing.T) {
	p := testPayload(t)
	h1, err := HashBid(p)
	if err != nil {
		t.Fatalf("HashBid: %v", err)
	}
	h2, err := HashBid(p)
	if err != nil {
		t.Fatalf("HashBid: %v", err)
	}
	if h1 != h2 {
		t.Errorf("HashBid not deterministic: %s vs %s", h1.Hex(), h2.Hex())
	}

	// Changing any covered field must change the hash.
	p2 := testPayload(t)
	p2.AuctionWager = big.NewInt(2_500_001)
	h3, err := HashBid(p2)
	if err != nil {
		t.Fatalf("HashBid: %v", err)
	}
	if h3 == h1 {
		t.Error("HashBid ignored auction wager change")
	}
}

func TestSignBidRoundTrip(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	p := testPayload(t)

	sig, err := s.SignBid(p)
	if err != nil {
		t.Fatalf("SignBid: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+65*2 {
		t.Fatalf("signature has unexpected shape: %s", sig)
	}

	v := NewVerifier(testChainID, testContract)
	if got := v.VerifyBid(p, sig); got != domain.ValidationValid {
		t.Errorf("VerifyBid = %s, want %s", got, domain.ValidationValid)
	}
}

func TestVerifyBidRejectsTamperedPayload(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	sig, err := s.SignBid(testPayload(t))
	if err != nil {
		t.Fatalf("SignBid: %v", err)
	}
	v := NewVerifier(testChainID, testContract)

	tampered := testPayload(t)
	tampered.TakerWager = big.NewInt(999)
	if got := v.VerifyBid(tampered, sig); got != domain.ValidationInvalid {
		t.Errorf("VerifyBid(tampered payload) = %s, want %s", got, domain.ValidationInvalid)
	}
}

func TestVerifyBidRejectsCorruptSignature(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	p := testPayload(t)
	sig, err := s.SignBid(p)
	if err != nil {
		t.Fatalf("SignBid: %v", err)
	}
	v := NewVerifier(testChainID, testContract)

	// Flip one byte in the middle of the signature.
	raw, err := hexutil.Decode(sig)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	raw[10] ^= 0xff
	flipped := hexutil.Encode(raw)
	if got := v.VerifyBid(p, flipped); got != domain.ValidationInvalid {
		t.Errorf("VerifyBid(flipped sig) = %s, want %s", got, domain.ValidationInvalid)
	}

	for _, bad := range []string{"", "0x", "0xdeadbeef", "not hex"} {
		if got := v.VerifyBid(p, bad); got != domain.ValidationInvalid {
			t.Errorf("VerifyBid(%q) = %s, want %s", bad, got, domain.ValidationInvalid)
		}
	}
}

func TestVerifyBidChainSeparation(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	p := testPayload(t)
	sig, err := s.SignBid(p)
	if err != nil {
		t.Fatalf("SignBid: %v", err)
	}

	otherChain := NewVerifier(testChainID+1, testContract)
	if got := otherChain.VerifyBid(p, sig); got != domain.ValidationInvalid {
		t.Errorf("VerifyBid on wrong chain = %s, want %s", got, domain.ValidationInvalid)
	}

	otherContract := NewVerifier(testChainID, "0x00000000000000000000000000000000000000cc")
	if got := otherContract.VerifyBid(p, sig); got != domain.ValidationInvalid {
		t.Errorf("VerifyBid with wrong contract = %s, want %s", got, domain.ValidationInvalid)
	}
}

func TestRequestMessageFormat(t *testing.T) {
	req := AuctionRequest{
		Domain:   "auction.example.org",
		Taker:    testAddress,
		Wager:    "1000000",
		Outcomes: []string{"0x0102030405"},
		Resolver: "0x00000000000000000000000000000000000000bb",
		ChainID:  testChainID,
		Nonce:    7,
		IssuedAt: "2026-08-30T12:00:00Z",
	}
	msg := req.Message()

	for _, want := range []string{
		"auction.example.org wants you to open an auction with account:",
		testAddress,
		"Wager: 1000000",
		"Predicted Outcomes: 0x0102030405",
		"Resolver: 0x00000000000000000000000000000000000000bb",
		"Chain ID: 42161",
		"Nonce: 7",
		"Issued At: 2026-08-30T12:00:00Z",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSignRequestRoundTrip(t *testing.T) {
	s, err := NewSigner(testKey, testChainID, testContract)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	req := AuctionRequest{
		Domain:   "auction.example.org",
		Taker:    testAddress,
		Wager:    "1000000",
		Outcomes: []string{"0x0102030405"},
		Resolver: "0x00000000000000000000000000000000000000bb",
		ChainID:  testChainID,
		Nonce:    1,
		IssuedAt: "2026-08-30T12:00:00Z",
	}

	sig, err := s.SignRequest(req)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	v := NewVerifier(testChainID, testContract)
	if !v.VerifyRequest(req, sig) {
		t.Error("VerifyRequest rejected a valid signature")
	}

	// Any field change invalidates.
	req2 := req
	req2.Nonce = 2
	if v.VerifyRequest(req2, sig) {
		t.Error("VerifyRequest accepted a replayed signature with a new nonce")
	}

	// A different claimed taker fails recovery comparison.
	req3 := req
	req3.Taker = "0x00000000000000000000000000000000000000dd"
	if v.VerifyRequest(req3, sig) {
		t.Error("VerifyRequest accepted a signature for the wrong taker")
	}
}
