package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mkarlsen/sendlater/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_messages (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			content TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			scheduled_time DATETIME NOT NULL,
			recurrence TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			claimed_by TEXT,
			claim_expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			sent_at DATETIME,
			failed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES scheduled_messages(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			attempt_time DATETIME NOT NULL,
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

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const messageColumns = `id, recipient_id, platform, content, parameters, scheduled_time, recurrence,
	status, attempts, last_error, claimed_by, claim_expires_at, created_at, updated_at, sent_at, failed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.ScheduledMessage, error) {
	var (
		m          models.ScheduledMessage
		params     string
		recurrence sql.NullString
		claimedBy  sql.NullString
		claimExp   sql.NullTime
		sentAt     sql.NullTime
		failedAt   sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.RecipientID, &m.Platform, &m.Content, &params, &m.ScheduledTime, &recurrence,
		&m.Status, &m.Attempts, &m.LastError, &claimedBy, &claimExp, &m.CreatedAt, &m.UpdatedAt, &sentAt, &failedAt,
	)
	if err != nil {
		return nil, err
	}

	if params != "" && params != "{}" {
		if err := json.Unmarshal([]byte(params), &m.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters for %s: %w", m.ID, err)
		}
	}
	if recurrence.Valid && recurrence.String != "" {
		var rule models.RecurrenceRule
		if err := json.Unmarshal([]byte(recurrence.String), &rule); err != nil {
			return nil, fmt.Errorf("decode recurrence for %s: %w", m.ID, err)
		}
		m.Recurrence = &rule
	}
	if claimedBy.Valid {
		m.ClaimedBy = claimedBy.String
	}
	if claimExp.Valid {
		t := claimExp.Time
		m.ClaimExpiresAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		m.FailedAt = &t
	}
	return &m, nil
}

func encodeParameters(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func encodeRecurrence(r *models.RecurrenceRule) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *models.ScheduledMessage) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RecipientID, msg.Platform, msg.Content, params, msg.ScheduledTime.UTC(), recurrence,
		msg.Status, msg.Attempts, msg.LastError, msg.CreatedAt.UTC(), msg.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, f ListFilter) ([]models.ScheduledMessage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []interface{}
	)
	if f.RecipientID != "" {
		where = append(where, "recipient_id = ?")
		args = append(args, f.RecipientID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	q := `SELECT ` + messageColumns + ` FROM scheduled_messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY scheduled_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

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

// statusError translates the current row state into the sentinel explaining
// why a guarded update matched nothing.
func (s *SQLiteStorage) statusError(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id string) error {
	var status models.Status
	err := q.QueryRowContext(ctx, `SELECT status FROM scheduled_messages WHERE id = ?`, id).Scan(&status)
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

func (s *SQLiteStorage) UpdateMessage(ctx context.Context, id string, upd MessageUpdate) error {
	set := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if upd.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.ScheduledTime != nil {
		set = append(set, "scheduled_time = ?")
		args = append(args, upd.ScheduledTime.UTC())
	}
	if upd.Parameters != nil {
		params, err := encodeParameters(upd.Parameters)
		if err != nil {
			return err
		}
		set = append(set, "parameters = ?")
		args = append(args, params)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = 'pending'`,
		args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.statusError(ctx, s.db, id)
	}
	return nil
}

func (s *SQLiteStorage) CancelMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET status = 'cancelled', claimed_by = NULL, claim_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := s.statusError(ctx, s.db, id)
		if err == ErrCancelled {
			// Cancelling twice is a no-op, not an error.
			return nil
		}
		return err
	}
	return nil
}

func (s *SQLiteStorage) MarkDueNow(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET scheduled_time = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now.UTC(), now.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.statusError(ctx, s.db, id)
	}
	return nil
}

// ClaimDue is a single conditional UPDATE so two workers racing for the same
// rows get disjoint batches. Expired-lease reclaim keeps attempts intact:
// only the claim columns are rewritten.
func (s *SQLiteStorage) ClaimDue(ctx context.Context, workerToken string, now time.Time, limit int, lease time.Duration) ([]models.ScheduledMessage, error) {
	expires := now.Add(lease).UTC()
	rows, err := s.db.QueryContext(ctx,
		`UPDATE scheduled_messages
		 SET status = 'processing', claimed_by = ?, claim_expires_at = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM scheduled_messages
			WHERE (status = 'pending' AND scheduled_time <= ?)
			   OR (status = 'processing' AND claim_expires_at IS NOT NULL AND claim_expires_at < ?)
			ORDER BY scheduled_time ASC
			LIMIT ?
		 )
		 RETURNING `+messageColumns,
		workerToken, expires, now.UTC(), now.UTC(), now.UTC(), limit)
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

func (s *SQLiteStorage) ResolveAttempt(ctx context.Context, attempt *models.DeliveryAttempt, workerToken string, res Resolution) error {
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
		 SET status = ?,
		     scheduled_time = COALESCE(?, scheduled_time),
		     attempts = CASE WHEN ? THEN 0 ELSE attempts + 1 END,
		     last_error = ?,
		     sent_at = COALESCE(?, sent_at),
		     failed_at = COALESCE(?, failed_at),
		     claimed_by = NULL,
		     claim_expires_at = NULL,
		     updated_at = ?
		 WHERE id = ? AND status = 'processing' AND claimed_by = ?`,
		res.Status, nextTime, res.ResetAttempts, res.LastError, sentAt, failedAt,
		attempt.AttemptTime.UTC(), attempt.MessageID, workerToken)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		// Nothing transitioned, so nothing may be recorded either.
		return s.statusError(ctx, tx, attempt.MessageID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_attempts (id, message_id, attempt_number, attempt_time, outcome, error_message, response_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.MessageID, attempt.AttemptNumber, attempt.AttemptTime.UTC(),
		attempt.Outcome, attempt.ErrorMessage, attempt.ResponseData); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) GetAttempts(ctx context.Context, messageID string) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, attempt_number, attempt_time, outcome, error_message, response_data
		 FROM delivery_attempts WHERE message_id = ? ORDER BY attempt_number`, messageID)
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

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
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
