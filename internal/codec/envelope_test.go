package codec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	raw := []byte(`{"type":"auction.bid","channel":"abc","payload":{"maker":"0x01"}}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != TypeAuctionBid {
		t.Errorf("Type = %q, want %q", env.Type, TypeAuctionBid)
	}
	if env.Channel != "abc" {
		t.Errorf("Channel = %q, want %q", env.Channel, "abc")
	}
	if len(env.Payload) == 0 {
		t.Error("Payload not captured")
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	cases := []string{
		"",
		"not json",
		"[]",
		`{"channel":"abc"}`,
		`{"type":"  "}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEnvelope([]byte(raw)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeEnvelope(%q) err = %v, want ErrDecode", raw, err)
		}
	}
}

func TestResolveChannelPrecedence(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "payload auctionId wins",
			env: Envelope{
				Channel:   "env-channel",
				AuctionID: "env-auction",
				Payload:   json.RawMessage(`{"auctionId":"payload-auction"}`),
			},
			want: "payload-auction",
		},
		{
			name: "channel over envelope auctionId",
			env: Envelope{
				Channel:   "env-channel",
				AuctionID: "env-auction",
				Payload:   json.RawMessage(`{"other":1}`),
			},
			want: "env-channel",
		},
		{
			name: "envelope auctionId last",
			env: Envelope{
				AuctionID: "env-auction",
			},
			want: "env-auction",
		},
		{
			name: "unscoped",
			env:  Envelope{},
			want: "",
		},
	}
	for _, tc := range cases {
		if got := ResolveChannel(tc.env); got != tc.want {
			t.Errorf("%s: ResolveChannel = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestEncodeScopedRoundTrip(t *testing.T) {
	frame, err := EncodeScoped(TypeAuctionAck, "auc-1", AckEvent{AuctionID: "auc-1"})
	if err != nil {
		t.Fatalf("EncodeScoped: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != TypeAuctionAck {
		t.Errorf("Type = %q, want %q", env.Type, TypeAuctionAck)
	}
	if got := ResolveChannel(env); got != "auc-1" {
		t.Errorf("ResolveChannel = %q, want %q", got, "auc-1")
	}

	var ack AckEvent
	if err := DecodePayload(env, &ack); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if ack.AuctionID != "auc-1" {
		t.Errorf("AuctionID = %q, want %q", ack.AuctionID, "auc-1")
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	var out AckEvent
	if err := DecodePayload(Envelope{Type: TypeAuctionAck}, &out); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodePayload(no payload) err = %v, want ErrDecode", err)
	}
	env := Envelope{Type: TypeAuctionAck, Payload: json.RawMessage(`"not an object"`)}
	if err := DecodePayload(env, &out); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodePayload(bad payload) err = %v, want ErrDecode", err)
	}
}
