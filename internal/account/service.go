package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-staff/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-staff/internal/emailgen"
	"github.com/ovaphlow/pitchfork/service-staff/internal/notification"
	notifentity "github.com/ovaphlow/pitchfork/service-staff/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrAccountBlocked    = errors.New("account blocked")
	ErrWeakPassword      = errors.New("password does not meet the password policy")
	ErrForbidden         = errors.New("not enough permissions")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failure")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidInput      = errors.New("invalid input")
)

const (
	MsgAccountBlocked   = "Your account was blocked after 5 failed login attempts"
	MsgAccountUnblocked = "Your account was unblocked by an administrator"

	searchLimit       = 50
	maxEmailSuffixTry = 20
)

func adminBlockedMessage(a *entity.Account) string {
	return fmt.Sprintf("Account %s (id %d) was blocked after %d failed login attempts", a.EmailCorporate, a.ID, MaxLoginAttempts)
}

// EmailGenerator produces a corporate email for a new account.
type EmailGenerator interface {
	Generate(fullName string) (string, error)
}

// Service orchestrates authentication, lockout escalation and the
// administrative account lifecycle.
type Service struct {
	db       *sqlx.DB
	accounts *accountrepo.AccountRepo
	sink     *notification.Service
	creds    *CredentialStore
	lockout  LockoutTracker
	emails   EmailGenerator
	ids      *utilities.IDGenerator
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewService(db *sqlx.DB, sink *notification.Service, creds *CredentialStore, emails EmailGenerator, ids *utilities.IDGenerator, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		db:       db,
		accounts: accountrepo.NewAccountRepo(db),
		sink:     sink,
		creds:    creds,
		lockout:  NewLockoutTracker(),
		emails:   emails,
		ids:      ids,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func persistErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, what, err)
}

// inTx runs fn in a transaction. fn's error rolls everything back and is
// returned as is; begin/commit failures become ErrPersistence.
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate verifies a corporate email / password pair.
//
// It returns the account on success, or one of ErrAccountNotFound,
// ErrInvalidCredential, ErrAccountBlocked. The whole read-verify-update
// sequence runs under the account's row lock, and the counter, block flag
// and escalation notifications commit together or not at all
// (ErrPersistence).
func (s *Service) Authenticate(ctx context.Context, email, password string) (*entity.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrAccountNotFound
	}

	var (
		result     *entity.Account
		verified   bool
		transition Transition
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		a, err := accounts.GetByEmailForUpdate(ctx, email)
		if err != nil {
			if database.IsNoRows(err) {
				return ErrAccountNotFound
			}
			return persistErr("load account", err)
		}
		if a.Blocked() {
			result = a
			return ErrAccountBlocked
		}

		now := s.now()
		verified = s.creds.Verify(password, a.PasswordHash)
		if verified {
			s.lockout.RecordSuccess(a)
		} else {
			transition = s.lockout.RecordFailure(a)
		}
		if err := accounts.SaveSecurityState(ctx, a.ID, a.LoginAttempts, a.IsActive, now); err != nil {
			return persistErr("save lockout state", err)
		}
		a.UpdatedAt = now
		result = a

		if transition == TransitionBlocked {
			return s.escalate(ctx, accounts, s.sink.WithTx(tx), a)
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrAccountNotFound):
		s.logger.Infow("auth.unknown_email", "email", email)
		return nil, ErrAccountNotFound
	case errors.Is(err, ErrAccountBlocked):
		s.logger.Warnw("auth.blocked_attempt", "account_id", result.ID)
		return nil, ErrAccountBlocked
	case err != nil:
		s.logger.Errorw("auth.persistence_failure", "email", email, "err", err)
		return nil, err
	}

	if !verified {
		if transition == TransitionBlocked {
			s.logger.Warnw("auth.account_blocked", "account_id", result.ID, "attempts", result.LoginAttempts)
			return nil, ErrAccountBlocked
		}
		s.logger.Infow("auth.invalid_credential", "account_id", result.ID, "attempts", result.LoginAttempts)
		return nil, ErrInvalidCredential
	}
	s.logger.Infow("auth.success", "account_id", result.ID)
	return result, nil
}

// escalate notifies the blocked account and every other admin. Duplicates
// are dropped by the sink.
func (s *Service) escalate(ctx context.Context, accounts *accountrepo.AccountRepo, sink *notification.Service, blocked *entity.Account) error {
	if _, err := sink.Notify(ctx, blocked.ID, MsgAccountBlocked, nil); err != nil {
		return persistErr("notify blocked account", err)
	}
	admins, err := accounts.ListAdmins(ctx)
	if err != nil {
		return persistErr("list admins", err)
	}
	msg := adminBlockedMessage(blocked)
	for _, admin := range admins {
		if admin.ID == blocked.ID {
			continue
		}
		if _, err := sink.Notify(ctx, admin.ID, msg, &notifentity.Payload{BlockedAccountID: blocked.ID}); err != nil {
			return persistErr("notify admin", err)
		}
	}
	return nil
}

// Unblock returns a blocked account to Active. Only admins may call it.
func (s *Service) Unblock(ctx context.Context, blockedID int64, actor *entity.Account) (*entity.Account, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	var target *entity.Account
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		a, err := accounts.GetByIDForUpdate(ctx, blockedID)
		if err != nil {
			if database.IsNoRows(err) {
				return ErrNotFound
			}
			return persistErr("load account", err)
		}
		now := s.now()
		transition := s.lockout.Unblock(a)
		if err := accounts.SaveSecurityState(ctx, a.ID, a.LoginAttempts, a.IsActive, now); err != nil {
			return persistErr("save lockout state", err)
		}
		a.UpdatedAt = now
		if transition == TransitionUnblocked {
			if _, err := s.sink.WithTx(tx).Notify(ctx, a.ID, MsgAccountUnblocked, nil); err != nil {
				return persistErr("notify unblocked account", err)
			}
		}
		target = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("account.unblocked", "account_id", target.ID, "admin_id", actor.ID)
	return target, nil
}

// NewAccount is the input of CreateAccount. Empty EmailCorporate asks for a
// generated address.
type NewAccount struct {
	FullName       string      `json:"full_name"`
	Password       string      `json:"password"`
	EmailPersonal  string      `json:"email_personal"`
	EmailCorporate string      `json:"email_corporate"`
	PhoneNumber    string      `json:"phone_number"`
	Birthday       *time.Time  `json:"birthday,omitempty"`
	Sex            *string     `json:"sex,omitempty"`
	TgName         *string     `json:"tg_name,omitempty"`
	Position       string      `json:"position"`
	Subdivision    string      `json:"subdivision"`
	Role           entity.Role `json:"role"`
}

// CreateAccount registers an employee. Only admins may create accounts;
// the password must pass the policy before anything is stored.
func (s *Service) CreateAccount(ctx context.Context, actor *entity.Account, in NewAccount) (*entity.Account, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	in.FullName = strings.TrimSpace(in.FullName)
	in.EmailPersonal = normalizeEmail(in.EmailPersonal)
	in.EmailCorporate = normalizeEmail(in.EmailCorporate)
	if in.FullName == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if !strings.Contains(in.EmailPersonal, "@") {
		return nil, fmt.Errorf("%w: email_personal is required", ErrInvalidInput)
	}
	role, err := entity.ParseRole(string(in.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := s.creds.Create(in.Password, in.FullName)
	if err != nil {
		if errors.Is(err, ErrWeakPassword) {
			return nil, err
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	corporate := in.EmailCorporate
	if corporate == "" {
		corporate, err = s.freeCorporateEmail(ctx, in.FullName)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	a := &entity.Account{
		ID:             s.ids.Next(),
		FullName:       in.FullName,
		Birthday:       in.Birthday,
		Sex:            in.Sex,
		EmailPersonal:  in.EmailPersonal,
		EmailCorporate: corporate,
		PasswordHash:   hash,
		PhoneNumber:    strings.TrimSpace(in.PhoneNumber),
		TgName:         in.TgName,
		Position:       in.Position,
		Subdivision:    in.Subdivision,
		Role:           role,
		IsActive:       true,
		LoginAttempts:  0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, persistErr("create account", err)
	}
	s.logger.Infow("account.created", "account_id", a.ID, "admin_id", actor.ID, "role", a.Role)
	return a, nil
}

// freeCorporateEmail generates an address and appends a number while the
// address is already taken.
func (s *Service) freeCorporateEmail(ctx context.Context, fullName string) (string, error) {
	base, err := s.emails.Generate(fullName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	base = normalizeEmail(base)
	for n := 1; n <= maxEmailSuffixTry; n++ {
		candidate := base
		if n > 1 {
			candidate = emailgen.WithSuffix(base, n)
		}
		_, err := s.accounts.GetByEmail(ctx, candidate)
		if database.IsNoRows(err) {
			return candidate, nil
		}
		if err != nil {
			return "", persistErr("check corporate email", err)
		}
	}
	return "", ErrEmailTaken
}

// AccountByEmail loads an account by corporate email. It backs the bearer
// token middleware.
func (s *Service) AccountByEmail(ctx context.Context, email string) (*entity.Account, error) {
	a, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, persistErr("load account", err)
	}
	return a, nil
}

// Profile returns the account with id. Non-admins may only view their own.
func (s *Service) Profile(ctx context.Context, actor *entity.Account, id int64) (*entity.Account, error) {
	if actor == nil {
		return nil, ErrForbidden
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, persistErr("load account", err)
	}
	if !actor.Role.IsAdmin() && actor.ID != id {
		return nil, ErrForbidden
	}
	return a, nil
}

// UpdateProfile applies patch to account id. Accounts may edit their own
// descriptive fields; editing others or changing a role needs an admin, and
// an admin's role is never changed here.
func (s *Service) UpdateProfile(ctx context.Context, actor *entity.Account, id int64, patch entity.ProfilePatch) (*entity.Account, error) {
	if actor == nil || (!actor.Role.IsAdmin() && actor.ID != id) {
		return nil, ErrForbidden
	}
	if patch.Role != nil && !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	if patch.Role != nil {
		if _, err := entity.ParseRole(string(*patch.Role)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if patch.FullName != nil && strings.TrimSpace(*patch.FullName) == "" {
		return nil, fmt.Errorf("%w: full_name must not be empty", ErrInvalidInput)
	}

	var out *entity.Account
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		a, err := accounts.GetByIDForUpdate(ctx, id)
		if err != nil {
			if database.IsNoRows(err) {
				return ErrNotFound
			}
			return persistErr("load account", err)
		}
		applyPatch(a, patch)
		a.UpdatedAt = s.now()
		if err := accounts.UpdateProfile(ctx, a); err != nil {
			return persistErr("update profile", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyPatch(a *entity.Account, p entity.ProfilePatch) {
	if p.FullName != nil {
		a.FullName = strings.TrimSpace(*p.FullName)
	}
	if p.PhoneNumber != nil {
		a.PhoneNumber = strings.TrimSpace(*p.PhoneNumber)
	}
	if p.Birthday != nil {
		a.Birthday = p.Birthday
	}
	if p.Sex != nil {
		a.Sex = p.Sex
	}
	if p.TgName != nil {
		a.TgName = p.TgName
	}
	if p.Position != nil {
		a.Position = *p.Position
	}
	if p.Subdivision != nil {
		a.Subdivision = *p.Subdivision
	}
	if p.Role != nil && a.Role != entity.RoleAdmin {
		a.Role = *p.Role
	}
}

// Search finds accounts by corporate email, name or phone substring.
func (s *Service) Search(ctx context.Context, query string) ([]*entity.Account, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}
	list, err := s.accounts.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, persistErr("search accounts", err)
	}
	return list, nil
}
