package repo

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
)

const accountColumns = `id, full_name, birthday, sex, email_personal, email_corporate,
	password_hash, phone_number, tg_name, position_employee, subdivision, role,
	is_active, login_attempts, created_at, updated_at`

// AccountRepo provides data access for the accounts table using sqlx.
// It runs either against the pool or inside a transaction (see WithTx).
type AccountRepo struct {
	db sqlx.ExtContext
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

// WithTx returns a repo whose statements run inside tx.
func (r *AccountRepo) WithTx(tx *sqlx.Tx) *AccountRepo { return &AccountRepo{db: tx} }

// EnsureTable creates the accounts table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if r.db.DriverName() == database.DriverSQLite {
		ts = "TIMESTAMP"
	}
	ddl := []string{`
CREATE TABLE IF NOT EXISTS accounts (
  id BIGINT PRIMARY KEY,
  full_name TEXT NOT NULL,
  birthday DATE,
  sex TEXT,
  email_personal TEXT NOT NULL UNIQUE,
  email_corporate TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  phone_number TEXT NOT NULL DEFAULT '',
  tg_name TEXT,
  position_employee TEXT NOT NULL DEFAULT '',
  subdivision TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  login_attempts INTEGER NOT NULL DEFAULT 0 CHECK (login_attempts >= 0),
  created_at ` + ts + ` NOT NULL,
  updated_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts (role)`,
	}
	for _, q := range ddl {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new account row. The caller assigns the id.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) error {
	q := r.db.Rebind(`INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.FullName, a.Birthday, a.Sex, a.EmailPersonal, a.EmailCorporate,
		a.PasswordHash, a.PhoneNumber, a.TgName, a.Position, a.Subdivision, string(a.Role),
		a.IsActive, a.LoginAttempts, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetByEmail returns the account with the given corporate email or sql.ErrNoRows.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.getOne(ctx, `email_corporate = ?`, "", email)
}

// GetByEmailForUpdate is GetByEmail plus a row lock held until the
// surrounding transaction ends. Only meaningful on a repo from WithTx.
func (r *AccountRepo) GetByEmailForUpdate(ctx context.Context, email string) (*entity.Account, error) {
	return r.getOne(ctx, `email_corporate = ?`, database.ForUpdate(r.db.DriverName()), email)
}

// GetByID fetches a full account row.
func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	return r.getOne(ctx, `id = ?`, "", id)
}

// GetByIDForUpdate fetches and locks the row; see GetByEmailForUpdate.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, id int64) (*entity.Account, error) {
	return r.getOne(ctx, `id = ?`, database.ForUpdate(r.db.DriverName()), id)
}

func (r *AccountRepo) getOne(ctx context.Context, where, suffix string, arg any) (*entity.Account, error) {
	q := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + suffix)
	var row entity.Account
	if err := sqlx.GetContext(ctx, r.db, &row, q, arg); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListAdmins returns every admin-role account ordered by id.
func (r *AccountRepo) ListAdmins(ctx context.Context) ([]*entity.Account, error) {
	q := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE role = ? ORDER BY id`)
	var rows []*entity.Account
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, string(entity.RoleAdmin)); err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveSecurityState persists the lockout counter and active flag.
func (r *AccountRepo) SaveSecurityState(ctx context.Context, id int64, attempts int, active bool, now time.Time) error {
	q := r.db.Rebind(`UPDATE accounts SET login_attempts = ?, is_active = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, attempts, active, now, id)
	return err
}

// UpdateProfile writes the descriptive fields and role. Security fields are
// left alone; they change only through SaveSecurityState.
func (r *AccountRepo) UpdateProfile(ctx context.Context, a *entity.Account) error {
	q := r.db.Rebind(`UPDATE accounts SET full_name = ?, birthday = ?, sex = ?, phone_number = ?,
		tg_name = ?, position_employee = ?, subdivision = ?, role = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, a.FullName, a.Birthday, a.Sex, a.PhoneNumber,
		a.TgName, a.Position, a.Subdivision, string(a.Role), a.UpdatedAt, a.ID)
	return err
}

// Search matches the query case-insensitively against corporate email,
// full name and phone number.
func (r *AccountRepo) Search(ctx context.Context, query string, limit int) ([]*entity.Account, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts
		WHERE LOWER(email_corporate) LIKE ? ESCAPE '\'
		   OR LOWER(full_name) LIKE ? ESCAPE '\'
		   OR LOWER(phone_number) LIKE ? ESCAPE '\'
		ORDER BY full_name, id LIMIT ?`)
	var rows []*entity.Account
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, pattern, pattern, pattern, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
