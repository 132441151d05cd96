// Package codec translates between raw relay frames and typed protocol
// messages, and round-trips predicted-outcome payloads between their
// on-chain ABI encoding and typed outcome sets.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names carried in the envelope Type field.
const (
	TypeAuctionStart        = "auction.start"
	TypeAuctionStarted      = "auction.started"
	TypeAuctionSubscribe    = "auction.subscribe"
	TypeAuctionAck          = "auction.ack"
	TypeAuctionBid          = "auction.bid"
	TypeAuctionError        = "auction.error"
	TypeVaultQuoteObserve   = "vault_quote.observe"
	TypeVaultQuoteUnobserve = "vault_quote.unobserve"
)

// ErrDecode marks an undecodable frame. Decode faults are non-fatal: callers
// log and drop the frame, they never tear down the connection over one.
var ErrDecode = errors.New("codec: undecodable envelope")

// Envelope is the wire frame for every relay message. Type is always present;
// Channel/AuctionID appear exactly when the message is scoped to one auction.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	AuctionID string          `json:"auctionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses a raw frame. A frame that is not JSON, or whose type
// field is missing or empty, yields ErrDecode.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return env, nil
}

// ResolveChannel returns the auction channel a message is scoped to, taking
// the first present of payload.auctionId, envelope.channel, and
// envelope.auctionId. Empty means the message is unscoped.
func ResolveChannel(env Envelope) string {
	if len(env.Payload) > 0 {
		var scoped struct {
			AuctionID string `json:"auctionId"`
		}
		if json.Unmarshal(env.Payload, &scoped) == nil && scoped.AuctionID != "" {
			return scoped.AuctionID
		}
	}
	if env.Channel != "" {
		return env.Channel
	}
	return env.AuctionID
}

// DecodePayload unmarshals an envelope's payload into v. An absent or
// malformed payload yields ErrDecode.
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s carries no payload", ErrDecode, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrDecode, env.Type, err)
	}
	return nil
}

// EncodeEnvelope serializes a typed message. The payload is marshalled as-is;
// nothing is injected into it.
func EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	return encodeScoped(msgType, "", payload)
}

// EncodeScoped serializes a message addressed to one auction's channel.
func EncodeScoped(msgType, auctionID string, payload any) ([]byte, error) {
	return encodeScoped(msgType, auctionID, payload)
}

func encodeScoped(msgType, auctionID string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, AuctionID: auctionID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
