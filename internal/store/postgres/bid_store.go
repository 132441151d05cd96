package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Bids are
// append-only; only the validation status ever changes after insert.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by the given pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Append inserts a bid.
func (s *BidStore) Append(ctx context.Context, b domain.Bid) error {
	var wager *string
	if b.MakerWager != nil {
		v := b.MakerWager.String()
		wager = &v
	}

	const query = `
		INSERT INTO bids (
			id, auction_id, maker, maker_wager, maker_deadline,
			maker_nonce, signature, validation_status, received_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	// NUMERIC column: the full uint64 range does not fit int8.
	_, err := s.pool.Exec(ctx, query,
		b.ID, b.AuctionID, b.Maker, wager, b.MakerDeadline,
		strconv.FormatUint(b.MakerNonce, 10), b.Signature, string(b.ValidationStatus), b.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append bid %s: %w", b.ID, err)
	}
	return nil
}

// UpdateValidation changes a bid's validation status and nothing else.
func (s *BidStore) UpdateValidation(ctx context.Context, id string, status domain.ValidationStatus) error {
	const query = `UPDATE bids SET validation_status = $1 WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update bid validation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByAuction returns an auction's bids in arrival order.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	const query = `
		SELECT id, auction_id, maker, maker_wager::text, maker_deadline,
			maker_nonce::text, signature, validation_status, received_at
		FROM bids WHERE auction_id = $1 ORDER BY received_at ASC`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var wager *string
		var nonce, status string
		var receivedAt time.Time

		err := rows.Scan(
			&b.ID, &b.AuctionID, &b.Maker, &wager, &b.MakerDeadline,
			&nonce, &b.Signature, &status, &receivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		if wager != nil {
			w, ok := new(big.Int).SetString(*wager, 10)
			if !ok {
				return nil, fmt.Errorf("postgres: bad maker wager %q", *wager)
			}
			b.MakerWager = w
		}
		if b.MakerNonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
			return nil, fmt.Errorf("postgres: bad maker nonce %q: %w", nonce, err)
		}
		b.ValidationStatus = domain.ValidationStatus(status)
		b.ReceivedAt = receivedAt
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
