package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	var wager *string
	if a.Wager != nil {
		v := a.Wager.String()
		wager = &v
	}

	const query = `
		INSERT INTO auctions (
			id, taker, wager, resolver, predicted_outcomes,
			deadline, status, chain_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Taker, wager, a.Resolver, a.PredictedOutcomes,
		a.Deadline, string(a.Status), a.ChainID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID fetches one auction. Missing rows map to domain.ErrNotFound.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	const query = auctionSelectCols + ` WHERE id = $1`

	a, err := scanAuction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// UpdateStatus changes an auction's status.
func (s *AuctionStore) UpdateStatus(ctx context.Context, id string, status domain.AuctionStatus) error {
	const query = `UPDATE auctions SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update auction status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns every auction still accepting bids, oldest first.
func (s *AuctionStore) ListOpen(ctx context.Context) ([]domain.Auction, error) {
	const query = auctionSelectCols + ` WHERE status = 'open' ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open auctions: %w", err)
	}
	return out, nil
}

const auctionSelectCols = `SELECT id, taker, wager::text, resolver, predicted_outcomes,
	deadline, status, chain_id, created_at FROM auctions`

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	var wager *string
	var status string
	var deadline, createdAt time.Time

	err := scanner.Scan(
		&a.ID, &a.Taker, &wager, &a.Resolver, &a.PredictedOutcomes,
		&deadline, &status, &a.ChainID, &createdAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	if wager != nil {
		w, ok := new(big.Int).SetString(*wager, 10)
		if !ok {
			return domain.Auction{}, fmt.Errorf("bad wager %q", *wager)
		}
		a.Wager = w
	}
	a.Status = domain.AuctionStatus(status)
	a.Deadline = deadline
	a.CreatedAt = createdAt
	return a, nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
