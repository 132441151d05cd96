package domain

import "context"

// AuctionStore persists relay-side auction state.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	UpdateStatus(ctx context.Context, id string, status AuctionStatus) error
	ListOpen(ctx context.Context) ([]Auction, error)
}

// BidStore persists bids. Append is the only write for bid content;
// UpdateValidation mutates nothing but the validation status.
type BidStore interface {
	Append(ctx context.Context, b Bid) error
	UpdateValidation(ctx context.Context, id string, status ValidationStatus) error
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
}

// SignalBus fans protocol events out across relay instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// NonceCounter hands out monotonically increasing per-address request
// nonces for taker auction-start signatures.
type NonceCounter interface {
	Next(ctx context.Context, address string) (uint64, error)
}
