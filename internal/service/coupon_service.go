package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/storefront-cart/internal/model"
	"github.com/fairyhunter13/storefront-cart/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	Insert(ctx context.Context, coupon *model.Coupon) error
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	DecrementStock(ctx context.Context, tx database.TxQuerier, code string) error
}

// ClaimRepositoryInterface is the ledger of checkout redemptions.
type ClaimRepositoryInterface interface {
	RedeemedBy(ctx context.Context, couponCode string) ([]string, error)
	RecordRedemption(ctx context.Context, tx database.TxQuerier, sessionID, couponCode string) error
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CouponService provides business logic for the coupon catalogue.
type CouponService struct {
	pool       TxBeginner
	couponRepo CouponRepositoryInterface
	claimRepo  ClaimRepositoryInterface
}

// NewCouponService creates a new CouponService with the given pool and repositories.
func NewCouponService(pool *pgxpool.Pool, couponRepo CouponRepositoryInterface, claimRepo ClaimRepositoryInterface) *CouponService {
	return &CouponService{
		pool:       pool,
		couponRepo: couponRepo,
		claimRepo:  claimRepo,
	}
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom TxBeginner.
// Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool TxBeginner, couponRepo CouponRepositoryInterface, claimRepo ClaimRepositoryInterface) *CouponService {
	return &CouponService{
		pool:       pool,
		couponRepo: couponRepo,
		claimRepo:  claimRepo,
	}
}

// NormalizeCode uppercases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create creates a new coupon from the request. The code is stored uppercased.
// Returns ErrCouponExists if the code is taken, ErrInvalidRequest if data is incomplete.
func (s *CouponService) Create(ctx context.Context, req *model.CreateCouponRequest) error {
	// Defense-in-depth: check for nil pointers even though handler validates
	if req == nil || req.Amount == nil || req.DiscountAmount == nil {
		return ErrInvalidRequest
	}
	if req.DiscountAmount.IsNegative() || NormalizeCode(req.Code) == "" {
		return ErrInvalidRequest
	}

	coupon := &model.Coupon{
		Code:            NormalizeCode(req.Code),
		DiscountAmount:  *req.DiscountAmount,
		Amount:          *req.Amount,
		RemainingAmount: *req.Amount,
	}
	return s.couponRepo.Insert(ctx, coupon)
}

// GetByCode retrieves a coupon with the sessions that redeemed it.
// Returns ErrCouponNotFound if the coupon doesn't exist.
func (s *CouponService) GetByCode(ctx context.Context, code string) (*model.CouponResponse, error) {
	code = NormalizeCode(code)
	coupon, err := s.couponRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	claimedBy, err := s.claimRepo.RedeemedBy(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get claims: %w", err)
	}

	return &model.CouponResponse{
		Code:            coupon.Code,
		DiscountAmount:  coupon.DiscountAmount,
		Amount:          coupon.Amount,
		RemainingAmount: coupon.RemainingAmount,
		ClaimedBy:       claimedBy,
	}, nil
}

// Resolve looks up a coupon a shopper wants to apply.
// Returns ErrCouponNotFound for unknown codes and ErrNoStock when it is exhausted.
func (s *CouponService) Resolve(ctx context.Context, code string) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("resolve coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	if coupon.RemainingAmount <= 0 {
		return nil, ErrNoStock
	}
	return coupon, nil
}

// ClaimCoupon atomically redeems a coupon for a session.
// The coupon row is locked with SELECT FOR UPDATE; onClaimed runs inside the
// transaction with the locked coupon and the transaction commits only if it succeeds.
// Returns:
//   - ErrCouponNotFound if the coupon doesn't exist
//   - ErrNoStock if the coupon has no remaining stock
//   - ErrAlreadyClaimed if the session has already claimed this coupon
func (s *CouponService) ClaimCoupon(ctx context.Context, sessionID, code string, onClaimed func(*model.Coupon) error) error {
	code = NormalizeCode(code)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the coupon row (SELECT FOR UPDATE)
	coupon, err := s.couponRepo.GetCouponForUpdate(ctx, tx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return ErrCouponNotFound
		}
		return fmt.Errorf("get coupon for update: %w", err)
	}

	// 2. Check stock
	if coupon.RemainingAmount <= 0 {
		return ErrNoStock
	}

	// 3. Record the redemption (UNIQUE constraint catches a second checkout with the same code)
	if err := s.claimRepo.RecordRedemption(ctx, tx, sessionID, code); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("record redemption: %w", err)
	}

	// 4. Decrement stock
	if err := s.couponRepo.DecrementStock(ctx, tx, code); err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	if onClaimed != nil {
		if err := onClaimed(coupon); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
