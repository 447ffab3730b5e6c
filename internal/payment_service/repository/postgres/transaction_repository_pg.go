package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

type PgTransactionRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgTransactionRepository(db *pgxpool.Pool, logger *slog.Logger) domain.TransactionRepository {
	return &PgTransactionRepository{db: db, logger: logger.With("component", "transaction_repository_pg")}
}

const transactionColumns = `
	id, document_id, amount, method, status, gateway_transaction_id,
	reference_entity, reference_number, reference_expires_at, reference_info,
	submitted_by, submitted_at, validated_by, validated_at,
	status_changed_at, created_at, updated_at`

func (r *PgTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	var entity, reference *string
	var expiresAt interface{}
	if txn.Reference != nil {
		entity = &txn.Reference.Entity
		reference = &txn.Reference.Reference
		expiresAt = txn.Reference.ExpiresAt
	}
	_, err := r.db.Exec(ctx, query,
		txn.ID, txn.DocumentID, txn.Amount, txn.Method, txn.Status, txn.GatewayTransactionID,
		entity, reference, expiresAt, txn.ReferenceInfo,
		txn.SubmittedBy, txn.SubmittedAt, txn.ValidatedBy, txn.ValidatedAt,
		txn.StatusChangedAt, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating payment transaction", "error", err, "transaction_id", txn.ID)
		return fmt.Errorf("creating payment transaction: %w", err)
	}
	return nil
}

func (r *PgTransactionRepository) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var gatewayTxnID, refEntity, refNumber, refInfo sql.NullString
	var refExpiresAt, submittedAt, validatedAt sql.NullTime
	var submittedBy, validatedBy sql.NullString

	err := row.Scan(
		&txn.ID, &txn.DocumentID, &txn.Amount, &txn.Method, &txn.Status, &gatewayTxnID,
		&refEntity, &refNumber, &refExpiresAt, &refInfo,
		&submittedBy, &submittedAt, &validatedBy, &validatedAt,
		&txn.StatusChangedAt, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if gatewayTxnID.Valid {
		txn.GatewayTransactionID = &gatewayTxnID.String
	}
	if refEntity.Valid && refNumber.Valid && refExpiresAt.Valid {
		txn.Reference = &domain.ReferenceData{
			Entity:    refEntity.String,
			Reference: refNumber.String,
			ExpiresAt: refExpiresAt.Time,
		}
	}
	if refInfo.Valid {
		txn.ReferenceInfo = &refInfo.String
	}
	if submittedBy.Valid {
		txn.SubmittedBy = &submittedBy.String
	}
	if submittedAt.Valid {
		txn.SubmittedAt = &submittedAt.Time
	}
	if validatedBy.Valid {
		txn.ValidatedBy = &validatedBy.String
	}
	if validatedAt.Valid {
		txn.ValidatedAt = &validatedAt.Time
	}
	return &txn, nil
}

func (r *PgTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	txn, err := r.scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting payment transaction by ID", "error", err, "id", id)
		return nil, fmt.Errorf("getting payment transaction %s: %w", id, err)
	}
	return txn, nil
}

func (r *PgTransactionRepository) GetByGatewayTransactionID(ctx context.Context, gatewayTxnID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE gateway_transaction_id = $1`
	txn, err := r.scanTransaction(r.db.QueryRow(ctx, query, gatewayTxnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting payment transaction by gateway ID", "error", err, "gateway_txn_id", gatewayTxnID)
		return nil, fmt.Errorf("getting payment transaction by gateway id %s: %w", gatewayTxnID, err)
	}
	return txn, nil
}

// Update writes all mutable fields. Status regressions out of a terminal state
// are blocked at the SQL level as well: the WHERE clause refuses to overwrite
// a terminal row with a different status, so even a buggy concurrent writer
// cannot un-succeed a payment.
func (r *PgTransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	query := `
		UPDATE payment_transactions SET
			status = $2, gateway_transaction_id = $3,
			reference_entity = $4, reference_number = $5, reference_expires_at = $6,
			reference_info = $7, submitted_by = $8, submitted_at = $9,
			validated_by = $10, validated_at = $11,
			status_changed_at = $12, updated_at = $13
		WHERE id = $1
		  AND (status NOT IN ('SUCCESS', 'DECLINED', 'EXPIRED') OR status = $2)
	`
	var entity, reference *string
	var expiresAt interface{}
	if txn.Reference != nil {
		entity = &txn.Reference.Entity
		reference = &txn.Reference.Reference
		expiresAt = txn.Reference.ExpiresAt
	}
	tag, err := r.db.Exec(ctx, query,
		txn.ID, txn.Status, txn.GatewayTransactionID,
		entity, reference, expiresAt,
		txn.ReferenceInfo, txn.SubmittedBy, txn.SubmittedAt,
		txn.ValidatedBy, txn.ValidatedAt,
		txn.StatusChangedAt, txn.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating payment transaction", "error", err, "transaction_id", txn.ID)
		return fmt.Errorf("updating payment transaction %s: %w", txn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, txn.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: refusing to overwrite terminal record %s", domain.ErrInvalidStateTransition, txn.ID)
	}
	return nil
}

func (r *PgTransactionRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking payment transaction %s: %w", id, err)
	}
	return exists, nil
}

func (r *PgTransactionRepository) ListPendingValidation(ctx context.Context) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE status = 'PENDING_VALIDATION'
		ORDER BY submitted_at ASC NULLS LAST, created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing pending-validation transactions: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PgTransactionRepository) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Transaction, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argPos := 1
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *filter.Status)
		argPos++
	}
	if filter.Method != nil {
		where += fmt.Sprintf(" AND method = $%d", argPos)
		args = append(args, *filter.Method)
		argPos++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM payment_transactions` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transaction history: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM payment_transactions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transaction history: %w", err)
	}
	defer rows.Close()

	txns, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *PgTransactionRepository) collect(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := r.scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment transaction row: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payment transaction rows: %w", err)
	}
	return txns, nil
}
