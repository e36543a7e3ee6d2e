package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-staff/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
)

type NotificationRepo struct {
	db sqlx.ExtContext
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// WithTx returns a repo whose statements run inside tx.
func (r *NotificationRepo) WithTx(tx *sqlx.Tx) *NotificationRepo {
	return &NotificationRepo{db: tx}
}

// EnsureTable creates the notifications table if it does not already exist.
// The unique (account_id, message) constraint is what makes Insert idempotent.
func (r *NotificationRepo) EnsureTable(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if r.db.DriverName() == database.DriverSQLite {
		ts = "TIMESTAMP"
	}
	tbl := `
	CREATE TABLE IF NOT EXISTS notifications (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts (id),
		message TEXT NOT NULL,
		data TEXT,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at ` + ts + ` NOT NULL,
		CONSTRAINT uix_account_message UNIQUE (account_id, message)
	)`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications (account_id, created_at)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	return nil
}

// Insert stores n unless a row with the same (account_id, message) exists.
// It reports whether a row was written.
func (r *NotificationRepo) Insert(ctx context.Context, n *entity.Notification) (bool, error) {
	q := r.db.Rebind(`INSERT INTO notifications (id, account_id, message, data, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, message) DO NOTHING
		RETURNING id`)
	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, q, n.ID, n.AccountID, n.Message, n.Data, n.IsRead, n.CreatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByAccount returns the account's notifications, newest first.
func (r *NotificationRepo) ListByAccount(ctx context.Context, accountID int64) ([]*entity.Notification, error) {
	q := r.db.Rebind(`SELECT id, account_id, message, data, is_read, created_at
		FROM notifications WHERE account_id = ? ORDER BY created_at DESC, id DESC`)
	rows := []*entity.Notification{}
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, accountID); err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead flags the notification as read if it belongs to accountID and
// returns the number of matched rows.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, accountID int64) (int64, error) {
	q := r.db.Rebind(`UPDATE notifications SET is_read = ? WHERE id = ? AND account_id = ?`)
	res, err := r.db.ExecContext(ctx, q, true, id, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
