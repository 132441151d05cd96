package crypto

import (
	"fmt"
	"strings"
)

// requestStatement is part of the signed plaintext and therefore fixed.
const requestStatement = "Open a collateralized wager auction against the listed predicted outcomes."

// AuctionRequest is the plaintext auction-start authorization a taker signs.
// Nonce is the taker's request counter, distinct from any bid nonce.
type AuctionRequest struct {
	Domain   string   // relay domain, e.g. "auction.sapience.xyz"
	Taker    string   // 0x hex address
	Wager    string   // wei, decimal string
	Outcomes []string // 0x hex outcome blobs
	Resolver string   // 0x hex address
	ChainID  int64
	Nonce    uint64
	IssuedAt string // RFC 3339
}

// Message renders the request in its canonical plaintext form. The relay
// rebuilds this exact string to verify the signature, so the line order is
// byte-for-byte fixed: any reordering breaks verification.
func (r AuctionRequest) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to open an auction with account:\n", r.Domain)
	fmt.Fprintf(&b, "%s\n\n", r.Taker)
	fmt.Fprintf(&b, "%s\n\n", requestStatement)
	fmt.Fprintf(&b, "Wager: %s\n", r.Wager)
	fmt.Fprintf(&b, "Predicted Outcomes: %s\n", strings.Join(r.Outcomes, ","))
	fmt.Fprintf(&b, "Resolver: %s\n", r.Resolver)
	fmt.Fprintf(&b, "Chain ID: %d\n", r.ChainID)
	fmt.Fprintf(&b, "Nonce: %d\n", r.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", r.IssuedAt)
	return b.String()
}
