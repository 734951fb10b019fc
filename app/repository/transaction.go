package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionAlreadyExists = errors.New("transaction already exists")
)

const transactionColumns = `id, order_ref, user_id, gateway, amount_cents, fee_cents, currency,
		status, gateway_invoice_id, pay_url, raw_json, paid_at, created_at, updated_at`

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *entity.Transaction) error {
	rawJSON, err := serializeRaw(tx.Raw)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (
			order_ref, user_id, gateway, amount_cents, fee_cents, currency,
			status, gateway_invoice_id, pay_url, raw_json, paid_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		tx.OrderRef,
		nullableUint64Value(tx.UserID),
		tx.Gateway,
		tx.AmountCents,
		tx.FeeCents,
		tx.Currency,
		tx.Status,
		nullableStringValue(tx.GatewayInvoiceID),
		nullableStringValue(tx.PayURL),
		rawJSON,
		nullableTimeValue(tx.PaidAt),
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTransactionAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	tx.ID = uint64(id)
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uint64) (*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = ?
	`

	tx := &entity.Transaction{}
	if err := scanTransaction(r.db.QueryRowContext(ctx, query, id), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return tx, nil
}

func (r *TransactionRepository) FindByOrderRef(ctx context.Context, orderRef string) (*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE order_ref = ?
		LIMIT 1
	`

	tx := &entity.Transaction{}
	if err := scanTransaction(r.db.QueryRowContext(ctx, query, orderRef), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return tx, nil
}

func (r *TransactionRepository) FindByGatewayInvoiceID(ctx context.Context, gateway, invoiceID string) (*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE gateway = ? AND gateway_invoice_id = ?
		LIMIT 1
	`

	tx := &entity.Transaction{}
	if err := scanTransaction(r.db.QueryRowContext(ctx, query, gateway, invoiceID), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return tx, nil
}

// MarkPaid performs the terminal-claim transition as a single
// conditional update. It returns true only for the caller that won the
// claim; paid and failed are absorbing states.
func (r *TransactionRepository) MarkPaid(ctx context.Context, id uint64, paidAt time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.StatusPaid, paidAt, paidAt,
		id, entity.StatusPaid, entity.StatusFailed,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkFailed carries the same precondition as MarkPaid so a late
// failure notification can never downgrade a paid transaction.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.StatusFailed, now,
		id, entity.StatusPaid, entity.StatusFailed,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *TransactionRepository) UpdateGatewayRefs(ctx context.Context, tx *entity.Transaction) error {
	rawJSON, err := serializeRaw(tx.Raw)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET gateway_invoice_id = ?, pay_url = ?, raw_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(tx.GatewayInvoiceID),
		nullableStringValue(tx.PayURL),
		rawJSON,
		tx.UpdatedAt,
		tx.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ? AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.StatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Transaction, 0)
	for rows.Next() {
		item := &entity.Transaction{}
		if err := scanTransaction(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(scan rowScanner, tx *entity.Transaction) error {
	var userID sql.NullInt64
	var gatewayInvoiceID sql.NullString
	var payURL sql.NullString
	var rawJSON string
	var paidAt sql.NullTime

	err := scan.Scan(
		&tx.ID,
		&tx.OrderRef,
		&userID,
		&tx.Gateway,
		&tx.AmountCents,
		&tx.FeeCents,
		&tx.Currency,
		&tx.Status,
		&gatewayInvoiceID,
		&payURL,
		&rawJSON,
		&paidAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return err
	}

	tx.UserID = uint64PtrFromNull(userID)
	tx.GatewayInvoiceID = stringPtrFromNull(gatewayInvoiceID)
	tx.PayURL = stringPtrFromNull(payURL)
	tx.PaidAt = timePtrFromNull(paidAt)

	raw, err := parseRaw(rawJSON)
	if err != nil {
		return err
	}
	tx.Raw = raw

	return nil
}
