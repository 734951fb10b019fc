package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
)

var ErrUserNotFound = errors.New("user not found")

type WalletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

// Credit increments the user's wallet balance in a single statement.
// The increment is applied server-side so concurrent credits cannot
// lose updates.
func (r *WalletRepository) Credit(ctx context.Context, userID uint64, amountCents int64, now time.Time) error {
	query := `
		UPDATE users
		SET wallet_balance_cents = wallet_balance_cents + ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, amountCents, now, userID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *WalletRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT id, email, wallet_balance_cents, vip_level, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.WalletBalanceCents,
		&user.VIPLevel,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return user, nil
}
