package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RuiRamos84/aintar-payments/internal/notification_service/domain"
)

// PgNotificationRepository stores each principal's history as one jsonb row
// with a persisted-at timestamp.
type PgNotificationRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgNotificationRepository(db *pgxpool.Pool, logger *slog.Logger) domain.NotificationRepository {
	return &PgNotificationRepository{db: db, logger: logger.With("component", "notification_repository_pg")}
}

func (r *PgNotificationRepository) Load(ctx context.Context, principalID string) ([]domain.Notification, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT history FROM notification_histories WHERE principal_id = $1`, principalID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error loading notification history", "error", err, "principal_id", principalID)
		return nil, fmt.Errorf("loading notification history for %s: %w", principalID, err)
	}

	var history []domain.Notification
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decoding notification history for %s: %w", principalID, err)
	}
	return history, nil
}

func (r *PgNotificationRepository) Save(ctx context.Context, principalID string, history []domain.Notification) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding notification history for %s: %w", principalID, err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO notification_histories (principal_id, history, persisted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id)
		DO UPDATE SET history = EXCLUDED.history, persisted_at = EXCLUDED.persisted_at
	`, principalID, raw, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error saving notification history", "error", err, "principal_id", principalID)
		return fmt.Errorf("saving notification history for %s: %w", principalID, err)
	}
	return nil
}

func (r *PgNotificationRepository) Principals(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT principal_id FROM notification_histories`)
	if err != nil {
		return nil, fmt.Errorf("listing notification principals: %w", err)
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning notification principal: %w", err)
		}
		principals = append(principals, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification principals: %w", err)
	}
	return principals, nil
}

func (r *PgNotificationRepository) Clear(ctx context.Context, principalID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM notification_histories WHERE principal_id = $1`, principalID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error clearing notification history", "error", err, "principal_id", principalID)
		return fmt.Errorf("clearing notification history for %s: %w", principalID, err)
	}
	return nil
}
