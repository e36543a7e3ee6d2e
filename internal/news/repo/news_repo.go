package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-staff/internal/news/entity"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
)

const newsColumns = `id, title, content, created_by, is_active, created_at, updated_at`

type NewsRepo struct {
	db sqlx.ExtContext
}

func NewNewsRepo(db *sqlx.DB) *NewsRepo {
	return &NewsRepo{db: db}
}

// WithTx returns a repo whose statements run inside tx.
func (r *NewsRepo) WithTx(tx *sqlx.Tx) *NewsRepo {
	return &NewsRepo{db: tx}
}

// EnsureTable creates the news table if it does not already exist.
// It references accounts, so that table must exist first.
func (r *NewsRepo) EnsureTable(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if r.db.DriverName() == database.DriverSQLite {
		ts = "TIMESTAMP"
	}
	tbl := `
	CREATE TABLE IF NOT EXISTS news (
		id BIGINT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_by BIGINT NOT NULL REFERENCES accounts (id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at ` + ts + ` NOT NULL,
		updated_at ` + ts + ` NOT NULL
	)`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_news_active_created ON news (is_active, created_at)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	return nil
}

func (r *NewsRepo) Create(ctx context.Context, n *entity.News) error {
	q := r.db.Rebind(`INSERT INTO news (` + newsColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, n.ID, n.Title, n.Content, n.CreatedBy, n.IsActive, n.CreatedAt, n.UpdatedAt)
	return err
}

// GetByID returns the item whether or not it is active, or sql.ErrNoRows.
func (r *NewsRepo) GetByID(ctx context.Context, id int64) (*entity.News, error) {
	q := r.db.Rebind(`SELECT ` + newsColumns + ` FROM news WHERE id = ?`)
	var n entity.News
	if err := sqlx.GetContext(ctx, r.db, &n, q, id); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetByIDForUpdate is GetByID with a row lock held until the transaction ends.
func (r *NewsRepo) GetByIDForUpdate(ctx context.Context, id int64) (*entity.News, error) {
	q := r.db.Rebind(`SELECT ` + newsColumns + ` FROM news WHERE id = ?` + database.ForUpdate(r.db.DriverName()))
	var n entity.News
	if err := sqlx.GetContext(ctx, r.db, &n, q, id); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListActive returns active items, newest first.
func (r *NewsRepo) ListActive(ctx context.Context, offset, limit int) ([]*entity.News, error) {
	q := r.db.Rebind(`SELECT ` + newsColumns + ` FROM news WHERE is_active = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows := []*entity.News{}
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, true, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}

// Update writes title, content and the active flag.
func (r *NewsRepo) Update(ctx context.Context, n *entity.News) error {
	q := r.db.Rebind(`UPDATE news SET title = ?, content = ?, is_active = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, n.Title, n.Content, n.IsActive, n.UpdatedAt, n.ID)
	return err
}
