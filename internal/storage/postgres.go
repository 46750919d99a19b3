package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mkarlsen/sendlater/internal/models"
)

// PostgresStorage is the multi-instance deployment target. Claims lean on
// FOR UPDATE SKIP LOCKED so concurrent workers hand out disjoint batches
// without ever blocking each other's ticks.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgres(url string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_messages (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			content TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			scheduled_time TIMESTAMPTZ NOT NULL,
			recurrence JSONB,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			claimed_by TEXT,
			claim_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			sent_at TIMESTAMPTZ,
			failed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES scheduled_messages(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			attempt_time TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			response_data TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_due ON scheduled_messages(status, scheduled_time) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_messages_claimed ON scheduled_messages(status, claim_expires_at) WHERE status = 'processing'`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON scheduled_messages(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_message ON delivery_attempts(message_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *models.ScheduledMessage) error {
	params, err := encodeParameters(msg.Parameters)
	if err != nil {
		return err
	}
	recurrence, err := encodeRecurrence(msg.Recurrence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages
		 (id, recipient_id, platform, content, parameters, scheduled_time, recurrence, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.RecipientID, msg.Platform, msg.Content, params, msg.ScheduledTime.UTC(), recurrence,
		msg.Status, msg.Attempts, msg.LastError, msg.CreatedAt.UTC(), msg.UpdatedAt.UTC(),
	)
	return err
}

func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *PostgresStorage) ListMessages(ctx context.Context, f ListFilter) ([]models.ScheduledMessage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []interface{}
	)
	if f.RecipientID != "" {
		args = append(args, f.RecipientID)
		where = append(where, fmt.Sprintf("recipient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + messageColumns + ` FROM scheduled_messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY scheduled_time DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStorage) UpdateMessage(ctx context.Context, id string, upd MessageUpdate) error {
	set := []string{}
	args := []interface{}{}

	args = append(args, time.Now().UTC())
	set = append(set, fmt.Sprintf("updated_at = $%d", len(args)))

	if upd.Content != nil {
		args = append(args, *upd.Content)
		set = append(set, fmt.Sprintf("content = $%d", len(args)))
	}
	if upd.ScheduledTime != nil {
		args = append(args, upd.ScheduledTime.UTC())
		set = append(set, fmt.Sprintf("scheduled_time = $%d", len(args)))
	}
	if upd.Parameters != nil {
		params, err := encodeParameters(upd.Parameters)
		if err != nil {
			return err
		}
		args = append(args, params)
		set = append(set, fmt.Sprintf("parameters = $%d", len(args)))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE scheduled_messages SET %s WHERE id = $%d AND status = 'pending'`,
			strings.Join(set, ", "), len(args)),
		args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.pgStatusError(ctx, s.db, id)
	}
	return nil
}

func (s *PostgresStorage) CancelMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET status = 'cancelled', claimed_by = NULL, claim_expires_at = NULL, updated_at = $1
		 WHERE id = $2 AND status IN ('pending', 'processing')`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := s.pgStatusError(ctx, s.db, id)
		if err == ErrCancelled {
			return nil
		}
		return err
	}
	return nil
}

func (s *PostgresStorage) MarkDueNow(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET scheduled_time = $1, updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		now.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.pgStatusError(ctx, s.db, id)
	}
	return nil
}

func (s *PostgresStorage) pgStatusError(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id string) error {
	var status models.Status
	err := q.QueryRowContext(ctx, `SELECT status FROM scheduled_messages WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	switch status {
	case models.StatusCancelled:
		return ErrCancelled
	case models.StatusSent, models.StatusFailed:
		return ErrTerminal
	default:
		return ErrClaimLost
	}
}

func (s *PostgresStorage) ClaimDue(ctx context.Context, workerToken string, now time.Time, limit int, lease time.Duration) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`WITH due AS (
			SELECT id FROM scheduled_messages
			WHERE (status = 'pending' AND scheduled_time <= $1)
			   OR (status = 'processing' AND claim_expires_at < $1)
			ORDER BY scheduled_time ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE scheduled_messages m
		 SET status = 'processing', claimed_by = $3, claim_expires_at = $4, updated_at = $1
		 FROM due
		 WHERE m.id = due.id
		 RETURNING m.id, m.recipient_id, m.platform, m.content, m.parameters, m.scheduled_time, m.recurrence,
			m.status, m.attempts, m.last_error, m.claimed_by, m.claim_expires_at, m.created_at, m.updated_at, m.sent_at, m.failed_at`,
		now.UTC(), limit, workerToken, now.Add(lease).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStorage) ResolveAttempt(ctx context.Context, attempt *models.DeliveryAttempt, workerToken string, res Resolution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var sentAt, failedAt, nextTime sql.NullTime
	if res.SentAt != nil {
		sentAt = sql.NullTime{Time: res.SentAt.UTC(), Valid: true}
	}
	if res.FailedAt != nil {
		failedAt = sql.NullTime{Time: res.FailedAt.UTC(), Valid: true}
	}
	if res.NextScheduledTime != nil {
		nextTime = sql.NullTime{Time: res.NextScheduledTime.UTC(), Valid: true}
	}

	r, err := tx.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET status = $1,
		     scheduled_time = COALESCE($2, scheduled_time),
		     attempts = CASE WHEN $3 THEN 0 ELSE attempts + 1 END,
		     last_error = $4,
		     sent_at = COALESCE($5, sent_at),
		     failed_at = COALESCE($6, failed_at),
		     claimed_by = NULL,
		     claim_expires_at = NULL,
		     updated_at = $7
		 WHERE id = $8 AND status = 'processing' AND claimed_by = $9`,
		res.Status, nextTime, res.ResetAttempts, res.LastError, sentAt, failedAt,
		attempt.AttemptTime.UTC(), attempt.MessageID, workerToken)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return s.pgStatusError(ctx, tx, attempt.MessageID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_attempts (id, message_id, attempt_number, attempt_time, outcome, error_message, response_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.MessageID, attempt.AttemptNumber, attempt.AttemptTime.UTC(),
		attempt.Outcome, attempt.ErrorMessage, attempt.ResponseData); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStorage) GetAttempts(ctx context.Context, messageID string) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, attempt_number, attempt_time, outcome, error_message, response_data
		 FROM delivery_attempts WHERE message_id = $1 ORDER BY attempt_number`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.MessageID, &a.AttemptNumber, &a.AttemptTime, &a.Outcome, &a.ErrorMessage, &a.ResponseData); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *PostgresStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusSent:
			stats.Sent = count
		case models.StatusFailed:
			stats.Failed = count
		case models.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_attempts`).Scan(&stats.Attempts); err != nil {
		return nil, err
	}

	if resolved := stats.Sent + stats.Failed; resolved > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(resolved) * 100
	}
	return stats, nil
}
