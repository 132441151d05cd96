package codec

// Payload shapes for the protocol messages in the envelope table. Large
// numbers travel as decimal strings to preserve precision across JSON
// boundaries, matching the signed payloads bit-for-bit.

// StartRequest is the taker's auction.start payload. The signature covers a
// fixed-line-order plaintext message rebuilt by the relay (see crypto
// package); TakerNonce is the taker's request counter, not a bid nonce.
type StartRequest struct {
	Taker             string   `json:"taker"`
	Wager             string   `json:"wager"` // wei, decimal string
	Resolver          string   `json:"resolver"`
	PredictedOutcomes []string `json:"predictedOutcomes"` // 0x hex blobs
	TakerNonce        uint64   `json:"takerNonce"`
	ChainID           int64    `json:"chainId"`
	IssuedAt          string   `json:"issuedAt"` // RFC 3339
	Signature         string   `json:"signature"`
}

// StartedEvent is broadcast by the relay once an auction is assigned an ID.
type StartedEvent struct {
	AuctionID         string   `json:"auctionId"`
	Taker             string   `json:"taker"`
	Wager             string   `json:"wager"`
	Resolver          string   `json:"resolver"`
	PredictedOutcomes []string `json:"predictedOutcomes"`
	Deadline          int64    `json:"deadline"` // unix seconds
}

// SubscribeRequest asks the relay to deliver one auction's traffic.
type SubscribeRequest struct {
	AuctionID string `json:"auctionId"`
}

// AckEvent confirms a subscription.
type AckEvent struct {
	AuctionID string `json:"auctionId"`
}

// BidEvent carries a maker bid to subscribers. ValidationStatus is stamped
// by the relay after signature verification.
type BidEvent struct {
	ID               string `json:"id"`
	AuctionID        string `json:"auctionId"`
	Maker            string `json:"maker"`
	MakerWager       string `json:"makerWager"` // wei, decimal string
	MakerDeadline    int64  `json:"makerDeadline"`
	MakerNonce       uint64 `json:"makerNonce"`
	Signature        string `json:"signature"`
	ValidationStatus string `json:"validationStatus,omitempty"`
	ReceivedAt       int64  `json:"receivedAt,omitempty"` // unix milliseconds
}

// ErrorEvent is the relay's explicit rejection of a protocol violation.
type ErrorEvent struct {
	AuctionID string `json:"auctionId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
