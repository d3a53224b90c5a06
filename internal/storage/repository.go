package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	insertAttemptSQL = `INSERT INTO price_change_attempts (
        id,
        product_id,
        old_price,
        new_price,
        change_pct,
        status,
        reason,
        triggered_by,
        attempted_at,
        completed_at,
        gateway_request_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	resolveAttemptSQL = `UPDATE price_change_attempts
    SET status = $2,
        reason = $3,
        gateway_request_id = $4,
        completed_at = $5
    WHERE id = $1
      AND completed_at IS NULL;`

	attemptColumns = `id,
        product_id,
        old_price,
        new_price,
        change_pct,
        status,
        reason,
        triggered_by,
        attempted_at,
        completed_at,
        gateway_request_id`

	getAttemptSQL = `SELECT ` + attemptColumns + `
    FROM price_change_attempts
    WHERE id = $1;`

	listAttemptsByProductSQL = `SELECT ` + attemptColumns + `
    FROM price_change_attempts
    WHERE product_id = $1
    ORDER BY attempted_at DESC
    LIMIT $2;`

	listRecentAttemptsSQL = `SELECT ` + attemptColumns + `
    FROM price_change_attempts
    ORDER BY attempted_at DESC
    LIMIT $1;`

	countAttemptsSQL = `SELECT COUNT(*) FROM price_change_attempts;`

	countPendingAttemptsSQL = `SELECT COUNT(*) FROM price_change_attempts
    WHERE status = 'pending'
      AND completed_at IS NULL;`

	upsertSettingsSQL = `INSERT INTO automation_settings (
        product_id,
        mode,
        monitoring_interval_minutes,
        max_price_change_pct,
        max_daily_changes,
        min_minutes_between_changes,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (product_id) DO UPDATE
    SET mode                        = EXCLUDED.mode,
        monitoring_interval_minutes = EXCLUDED.monitoring_interval_minutes,
        max_price_change_pct        = EXCLUDED.max_price_change_pct,
        max_daily_changes           = EXCLUDED.max_daily_changes,
        min_minutes_between_changes = EXCLUDED.min_minutes_between_changes,
        updated_at                  = EXCLUDED.updated_at;`

	settingsColumns = `product_id,
        mode,
        monitoring_interval_minutes,
        max_price_change_pct,
        max_daily_changes,
        min_minutes_between_changes,
        created_at,
        updated_at`

	getSettingsSQL = `SELECT ` + settingsColumns + `
    FROM automation_settings
    WHERE product_id = $1;`

	listSettingsSQL = `SELECT ` + settingsColumns + `
    FROM automation_settings
    ORDER BY product_id;`

	deleteSettingsSQL = `DELETE FROM automation_settings WHERE product_id = $1;`
)

// Store aggregates Postgres-backed access to the attempt ledger and the
// per-product automation settings.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAttempt appends a ledger record.
func (s *Store) InsertAttempt(ctx context.Context, attempt Attempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var completed interface{}
	if attempt.CompletedAt != nil {
		completed = attempt.CompletedAt.UTC()
	}

	var requestID interface{}
	if attempt.GatewayRequestID != "" {
		requestID = attempt.GatewayRequestID
	}

	_, execErr := pool.Exec(ctx, insertAttemptSQL,
		attempt.ID,
		attempt.ProductID,
		attempt.OldPrice.String(),
		attempt.NewPrice.String(),
		attempt.ChangePercent.String(),
		string(attempt.Status),
		attempt.Reason,
		string(attempt.TriggeredBy),
		attempt.AttemptedAt.UTC(),
		completed,
		requestID,
	)
	if execErr != nil {
		return fmt.Errorf("insert attempt: %w", execErr)
	}
	return nil
}

// ResolveAttempt finalises a pending attempt. The completed_at guard in the
// statement makes a second resolution a no-op, reported as ErrAlreadyResolved.
func (s *Store) ResolveAttempt(ctx context.Context, id string, status AttemptStatus, reason, requestID string, completedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("resolve attempt %s: status %s is not terminal", id, status)
	}

	var reqID interface{}
	if requestID != "" {
		reqID = requestID
	}

	tag, execErr := pool.Exec(ctx, resolveAttemptSQL, id, string(status), reason, reqID, completedAt.UTC())
	if execErr != nil {
		return fmt.Errorf("resolve attempt: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetAttempt(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyResolved
	}
	return nil
}

// GetAttempt fetches a single ledger record by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return Attempt{}, err
	}

	rows, queryErr := pool.Query(ctx, getAttemptSQL, id)
	if queryErr != nil {
		return Attempt{}, fmt.Errorf("get attempt: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Attempt{}, rows.Err()
		}
		return Attempt{}, ErrAttemptNotFound
	}
	return scanAttempt(rows)
}

// ListAttemptsByProduct lists the most recent attempts for one product.
func (s *Store) ListAttemptsByProduct(ctx context.Context, productID string, limit int) ([]Attempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAttemptsByProductSQL, productID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list attempts by product: %w", queryErr)
	}
	defer rows.Close()

	return collectAttempts(rows, limit)
}

// ListRecentAttempts lists the most recent attempts across all products.
func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()

	return collectAttempts(rows, limit)
}

// CountAttempts counts ledger records.
func (s *Store) CountAttempts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAttemptsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count attempts: %w", scanErr)
	}
	return count, nil
}

// CountPendingAttempts counts attempts still awaiting resolution.
func (s *Store) CountPendingAttempts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPendingAttemptsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count pending attempts: %w", scanErr)
	}
	return count, nil
}

// GetSettings fetches settings for a product.
func (s *Store) GetSettings(ctx context.Context, productID string) (AutomationSettings, error) {
	pool, err := s.getPool()
	if err != nil {
		return AutomationSettings{}, err
	}

	row := pool.QueryRow(ctx, getSettingsSQL, productID)
	settings, scanErr := scanSettingsRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return AutomationSettings{}, ErrSettingsNotFound
		}
		return AutomationSettings{}, scanErr
	}
	return settings, nil
}

// UpsertSettings creates or replaces settings for a product.
func (s *Store) UpsertSettings(ctx context.Context, settings AutomationSettings) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSettingsSQL,
		settings.ProductID,
		string(settings.Mode),
		settings.MonitoringIntervalMinutes,
		settings.MaxPriceChangePercent.String(),
		settings.MaxDailyChanges,
		settings.MinMinutesBetweenChanges,
		settings.CreatedAt.UTC(),
		settings.UpdatedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert settings: %w", execErr)
	}
	return nil
}

// DeleteSettings removes settings for a product.
func (s *Store) DeleteSettings(ctx context.Context, productID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSettingsSQL, productID); execErr != nil {
		return fmt.Errorf("delete settings: %w", execErr)
	}
	return nil
}

// ListSettings lists settings for all products.
func (s *Store) ListSettings(ctx context.Context) ([]AutomationSettings, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSettingsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list settings: %w", queryErr)
	}
	defer rows.Close()

	out := make([]AutomationSettings, 0)
	for rows.Next() {
		settings, scanErr := scanSettingsRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, settings)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func collectAttempts(rows pgx.Rows, limit int) ([]Attempt, error) {
	attempts := make([]Attempt, 0, limit)
	for rows.Next() {
		attempt, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		attempts = append(attempts, attempt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

func scanAttempt(rows pgx.Rows) (Attempt, error) {
	var (
		attempt      Attempt
		oldStr       string
		newStr       string
		changeStr    string
		status       string
		trigger      string
		completed    sql.NullTime
		gatewayReqID sql.NullString
	)

	if err := rows.Scan(
		&attempt.ID,
		&attempt.ProductID,
		&oldStr,
		&newStr,
		&changeStr,
		&status,
		&attempt.Reason,
		&trigger,
		&attempt.AttemptedAt,
		&completed,
		&gatewayReqID,
	); err != nil {
		return Attempt{}, err
	}

	var err error
	if attempt.OldPrice, err = decimal.NewFromString(oldStr); err != nil {
		return Attempt{}, fmt.Errorf("parse old price: %w", err)
	}
	if attempt.NewPrice, err = decimal.NewFromString(newStr); err != nil {
		return Attempt{}, fmt.Errorf("parse new price: %w", err)
	}
	if attempt.ChangePercent, err = decimal.NewFromString(changeStr); err != nil {
		return Attempt{}, fmt.Errorf("parse change pct: %w", err)
	}

	attempt.Status = AttemptStatus(status)
	attempt.TriggeredBy = Trigger(trigger)
	if completed.Valid {
		value := completed.Time
		attempt.CompletedAt = &value
	}
	if gatewayReqID.Valid {
		attempt.GatewayRequestID = gatewayReqID.String
	}

	return attempt, nil
}

func scanSettingsRow(row pgx.Row) (AutomationSettings, error) {
	var (
		settings AutomationSettings
		mode     string
		capStr   string
	)

	if err := row.Scan(
		&settings.ProductID,
		&mode,
		&settings.MonitoringIntervalMinutes,
		&capStr,
		&settings.MaxDailyChanges,
		&settings.MinMinutesBetweenChanges,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	); err != nil {
		return AutomationSettings{}, err
	}

	capValue, err := decimal.NewFromString(capStr)
	if err != nil {
		return AutomationSettings{}, fmt.Errorf("parse max change pct: %w", err)
	}

	settings.Mode = ApplyMode(mode)
	settings.MaxPriceChangePercent = capValue
	return settings, nil
}

var (
	_ AttemptStore  = (*Store)(nil)
	_ SettingsStore = (*Store)(nil)
)
