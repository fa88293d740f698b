package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/port"
)

// MySQL server error numbers the adapter classifies.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// TryAcquireLock purges any expired row for key, then conditionally inserts a
// fresh one. A duplicate-key failure means a live holder exists.
func (m *MySQLAdapter) TryAcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	_, err := m.db.ExecContext(ctx, `
		DELETE FROM locks WHERE lock_key = ? AND expires_at <= NOW(3)`, key)
	if err != nil {
		return false, fmt.Errorf("purge expired lock: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO locks (lock_key, lock_value, created_at, expires_at)
		VALUES (?, ?, NOW(3), DATE_ADD(NOW(3), INTERVAL ? MICROSECOND))`,
		key, token, ttl.Microseconds(),
	)
	if err != nil {
		if isMySQLErr(err, mysqlErrDupEntry) {
			return false, nil
		}
		return false, fmt.Errorf("insert lock: %w", err)
	}

	return true, nil
}

func (m *MySQLAdapter) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM locks WHERE lock_key = ? AND lock_value = ?`, key, token)
	if err != nil {
		return false, fmt.Errorf("delete lock: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// BumpVersion runs on the pool, not inside the reservation transaction: the
// ledger must record every attempt, including ones that roll back. The caller
// holds the resource's advisory lock, so the read-back cannot race.
func (m *MySQLAdapter) BumpVersion(ctx context.Context, resourceID int64) (uint64, error) {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_version (resource_id, version, last_updated)
		VALUES (?, 1, NOW(3))
		ON DUPLICATE KEY UPDATE version = version + 1, last_updated = NOW(3)`,
		resourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}

	var version uint64
	err = m.db.QueryRowContext(ctx, `
		SELECT version FROM stock_version WHERE resource_id = ?`, resourceID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}

	return version, nil
}

func (m *MySQLAdapter) Begin(ctx context.Context) (port.StoreTx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlTx{tx: tx}, nil
}

func (m *MySQLAdapter) ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	return scanReservation(m.db.QueryRowContext(ctx, `
		SELECT id, resource_id, quantity, owner_id, order_id, session_id, version, expires_at, created_at
		FROM reservations WHERE id = ?`, id))
}

func (m *MySQLAdapter) SessionReservations(ctx context.Context, sessionID string, now time.Time) ([]domain.Reservation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, resource_id, quantity, owner_id, order_id, session_id, version, expires_at, created_at
		FROM reservations
		WHERE session_id = ? AND expires_at > ? AND order_id = 0`,
		sessionID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query session reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (m *MySQLAdapter) Availability(ctx context.Context, resourceID int64, now time.Time) (int, error) {
	var stock int
	var published bool
	err := m.db.QueryRowContext(ctx, `
		SELECT stock_quantity, published FROM resources WHERE resource_id = ?`,
		resourceID,
	).Scan(&stock, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrResourceUnavailable
	}
	if err != nil {
		return 0, fmt.Errorf("query resource: %w", err)
	}
	if !published {
		return 0, domain.ErrResourceUnavailable
	}

	var reserved int
	err = m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE resource_id = ? AND expires_at > ? AND order_id = 0`,
		resourceID, now,
	).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("sum pending reservations: %w", err)
	}

	return stock - reserved, nil
}

func (m *MySQLAdapter) DeleteReservation(ctx context.Context, id int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO operation_log (operation, resource_id, quantity, owner_id, session_id, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Operation, e.ResourceID, e.Quantity, e.OwnerID, e.SessionID, e.Status, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) StockForUpdate(ctx context.Context, resourceID int64) (*domain.StockSnapshot, error) {
	var snap domain.StockSnapshot
	err := t.tx.QueryRowContext(ctx, `
		SELECT resource_id, stock_quantity, published, updated_at
		FROM resources WHERE resource_id = ? FOR UPDATE`,
		resourceID,
	).Scan(&snap.ResourceID, &snap.StockQuantity, &snap.Published, &snap.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapConflict(err, "lock stock row")
	}

	return &snap, nil
}

func (t *mysqlTx) PendingQuantity(ctx context.Context, resourceID int64, now time.Time) (int, error) {
	var reserved int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE resource_id = ? AND expires_at > ? AND order_id = 0`,
		resourceID, now,
	).Scan(&reserved)
	if err != nil {
		return 0, mapConflict(err, "sum pending reservations")
	}
	return reserved, nil
}

func (t *mysqlTx) InsertReservation(ctx context.Context, r *domain.Reservation) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (resource_id, quantity, owner_id, order_id, session_id, version, expires_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, r.Version, r.ExpiresAt, r.CreatedAt,
	)
	if err != nil {
		return 0, mapConflict(err, "insert reservation")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reservation insert id: %w", err)
	}

	r.ID = id
	return id, nil
}

func (t *mysqlTx) ReservationForUpdate(ctx context.Context, id int64) (*domain.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx, `
		SELECT id, resource_id, quantity, owner_id, order_id, session_id, version, expires_at, created_at
		FROM reservations WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, mapConflict(err, "lock reservation row")
	}
	return r, nil
}

func (t *mysqlTx) ConfirmReservation(ctx context.Context, id, orderID int64, expiresAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE reservations SET order_id = ?, expires_at = ? WHERE id = ?`,
		orderID, expiresAt, id,
	)
	if err != nil {
		return mapConflict(err, "confirm reservation")
	}
	return nil
}

func (t *mysqlTx) DecrementStock(ctx context.Context, resourceID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE resources SET stock_quantity = stock_quantity - ?, updated_at = NOW(3)
		WHERE resource_id = ?`,
		quantity, resourceID,
	)
	if err != nil {
		return mapConflict(err, "decrement stock")
	}
	return nil
}

func (t *mysqlTx) ExpiredForUpdate(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, resource_id, quantity, owner_id, order_id, session_id, version, expires_at, created_at
		FROM reservations
		WHERE expires_at <= ? AND order_id = 0 FOR UPDATE`,
		now,
	)
	if err != nil {
		return nil, mapConflict(err, "lock expired reservations")
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (t *mysqlTx) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM reservations WHERE expires_at <= ? AND order_id = 0`, now)
	if err != nil {
		return 0, mapConflict(err, "delete expired reservations")
	}

	return result.RowsAffected()
}

func (t *mysqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *mysqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.ResourceID, &r.Quantity, &r.OwnerID, &r.OrderID,
		&r.SessionID, &r.Version, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.Quantity, &r.OwnerID, &r.OrderID,
			&r.SessionID, &r.Version, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// mapConflict classifies MySQL deadlocks and lock wait timeouts as transient
// so the deadlock-resilient reader can retry them.
func mapConflict(err error, op string) error {
	if isMySQLErr(err, mysqlErrDeadlock) || isMySQLErr(err, mysqlErrLockWaitTimeout) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isMySQLErr(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}
