package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/storefront-cart/internal/service"
	"github.com/fairyhunter13/storefront-cart/pkg/database"
)

const (
	// one row per (session_id, coupon_code); the unique key is what limits a
	// shopper to a single redemption of each code
	insertRedemptionSQL = `INSERT INTO claims (session_id, coupon_code) VALUES ($1, $2)`
	redeemedBySQL       = `SELECT session_id FROM claims WHERE coupon_code = $1 ORDER BY created_at`
)

// uniqueViolation is the SQLSTATE postgres reports for a duplicate key.
const uniqueViolation = "23505"

// ClaimPoolInterface defines the database operations needed by ClaimRepository.
type ClaimPoolInterface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ClaimRepository is the ledger of coupon redemptions made at checkout.
// Writes happen only inside the checkout transaction that also takes stock.
type ClaimRepository struct {
	pool ClaimPoolInterface
}

func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// NewClaimRepositoryWithPool is used by tests to substitute the pool.
func NewClaimRepositoryWithPool(pool ClaimPoolInterface) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// RedeemedBy lists the sessions that checked out with couponCode, in redemption
// order. A code nobody redeemed yields an empty, non-nil slice.
func (r *ClaimRepository) RedeemedBy(ctx context.Context, couponCode string) ([]string, error) {
	rows, err := r.pool.Query(ctx, redeemedBySQL, couponCode)
	if err != nil {
		return nil, fmt.Errorf("query redemptions of %s: %w", couponCode, err)
	}

	sessions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read redemptions of %s: %w", couponCode, err)
	}
	return sessions, nil
}

// RecordRedemption books couponCode against sessionID inside the checkout tx.
// A session that already redeemed the code gets service.ErrAlreadyClaimed and
// the caller rolls the checkout back.
func (r *ClaimRepository) RecordRedemption(ctx context.Context, tx database.TxQuerier, sessionID, couponCode string) error {
	if _, err := tx.Exec(ctx, insertRedemptionSQL, sessionID, couponCode); err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return service.ErrAlreadyClaimed
		}
		return fmt.Errorf("record redemption of %s by %s: %w", couponCode, sessionID, err)
	}
	return nil
}
