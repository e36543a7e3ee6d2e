package account

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-staff/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-staff/internal/emailgen"
	"github.com/ovaphlow/pitchfork/service-staff/internal/notification"
	notifentity "github.com/ovaphlow/pitchfork/service-staff/internal/notification/entity"
	notifrepo "github.com/ovaphlow/pitchfork/service-staff/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

const goodPassword = "Xq7!mKzaa"

var root = &entity.Account{ID: 1, Role: entity.RoleAdmin}

type testEnv struct {
	db    *sqlx.DB
	svc   *Service
	sink  *notification.Service
	repo  *accountrepo.AccountRepo
	admin []*entity.Account
}

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, accountrepo.NewAccountRepo(db).EnsureTable(ctx))
	require.NoError(t, notifrepo.NewNotificationRepo(db).EnsureTable(ctx))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	ids, err := utilities.NewIDGenerator(1)
	require.NoError(t, err)
	policy, _ := NewPasswordPolicy(PolicyConfig{})
	sink := notification.NewService(notifrepo.NewNotificationRepo(db), ids)
	creds := NewCredentialStore(policy, BcryptHasher{Cost: bcrypt.MinCost})
	svc := NewService(db, sink, creds, emailgen.Generator{Domain: "cyber-ed.ru"}, ids, zap.NewNop().Sugar())
	return &testEnv{db: db, svc: svc, sink: sink, repo: accountrepo.NewAccountRepo(db)}
}

func (e *testEnv) create(t *testing.T, fullName, corporate string, role entity.Role) *entity.Account {
	t.Helper()
	a, err := e.svc.CreateAccount(context.Background(), root, NewAccount{
		FullName:       fullName,
		Password:       goodPassword,
		EmailPersonal:  corporate + ".personal@example.com",
		EmailCorporate: corporate + "@cyber-ed.ru",
		Role:           role,
	})
	require.NoError(t, err)
	if role == entity.RoleAdmin {
		e.admin = append(e.admin, a)
	}
	return a
}

func (e *testEnv) reload(t *testing.T, id int64) *entity.Account {
	t.Helper()
	a, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) notifications(t *testing.T, id int64) []*notifentity.Notification {
	t.Helper()
	list, err := e.sink.ListFor(context.Background(), id)
	require.NoError(t, err)
	return list
}

func (e *testEnv) fail(t *testing.T, a *entity.Account, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_, err := e.svc.Authenticate(context.Background(), a.EmailCorporate, "wrong-password")
		require.Error(t, err)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	got, err := env.svc.Authenticate(context.Background(), "  I.Ivanov@Cyber-Ed.ru ", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Zero(t, got.LoginAttempts)
	assert.True(t, got.IsActive)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	_, err := env.svc.Authenticate(context.Background(), "nobody@cyber-ed.ru", goodPassword)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = env.svc.Authenticate(context.Background(), "", goodPassword)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAuthenticateFailureIncrementsByOne(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	for want := 1; want < MaxLoginAttempts; want++ {
		_, err := env.svc.Authenticate(context.Background(), a.EmailCorporate, "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredential)
		cur := env.reload(t, a.ID)
		assert.Equal(t, want, cur.LoginAttempts)
		assert.True(t, cur.IsActive)
	}
	assert.Empty(t, env.notifications(t, a.ID))
}

func TestAuthenticateSuccessResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	env.fail(t, a, MaxLoginAttempts-1)
	require.Equal(t, MaxLoginAttempts-1, env.reload(t, a.ID).LoginAttempts)

	_, err := env.svc.Authenticate(context.Background(), a.EmailCorporate, goodPassword)
	require.NoError(t, err)
	assert.Zero(t, env.reload(t, a.ID).LoginAttempts)
}

func TestAuthenticateBlocksAndEscalates(t *testing.T) {
	env := newTestEnv(t)
	adminA := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	adminB := env.create(t, "Sidorova Anna", "a.sidorova", entity.RoleAdmin)
	manager := env.create(t, "Smirnov Oleg", "o.smirnov", entity.RoleManager)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	env.fail(t, a, MaxLoginAttempts-1)
	_, err := env.svc.Authenticate(context.Background(), a.EmailCorporate, "wrong-password")
	assert.ErrorIs(t, err, ErrAccountBlocked)

	cur := env.reload(t, a.ID)
	assert.False(t, cur.IsActive)
	assert.Equal(t, MaxLoginAttempts, cur.LoginAttempts)

	self := env.notifications(t, a.ID)
	require.Len(t, self, 1)
	assert.Equal(t, MsgAccountBlocked, self[0].Message)

	for _, admin := range []*entity.Account{adminA, adminB} {
		list := env.notifications(t, admin.ID)
		require.Len(t, list, 1, admin.EmailCorporate)
		assert.Contains(t, list[0].Message, a.EmailCorporate)
		require.NotNil(t, list[0].Data)
		assert.Equal(t, a.ID, list[0].Data.BlockedAccountID)
	}
	assert.Empty(t, env.notifications(t, manager.ID))
}

func TestBlockedAccountShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	env.fail(t, a, MaxLoginAttempts)
	before := env.reload(t, a.ID)

	for _, pw := range []string{goodPassword, "wrong-password"} {
		_, err := env.svc.Authenticate(context.Background(), a.EmailCorporate, pw)
		assert.ErrorIs(t, err, ErrAccountBlocked)
	}

	after := env.reload(t, a.ID)
	assert.Equal(t, before.LoginAttempts, after.LoginAttempts)
	assert.False(t, after.IsActive)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "no write for blocked accounts")
	assert.Len(t, env.notifications(t, a.ID), 1)
	assert.Len(t, env.notifications(t, admin.ID), 1)
}

func TestBlockingAnAdminSkipsSelfInAdminFanout(t *testing.T) {
	env := newTestEnv(t)
	other := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleAdmin)

	env.fail(t, a, MaxLoginAttempts)

	self := env.notifications(t, a.ID)
	require.Len(t, self, 1)
	assert.Equal(t, MsgAccountBlocked, self[0].Message)
	assert.Len(t, env.notifications(t, other.ID), 1)
}

func TestUnblock(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	manager := env.create(t, "Smirnov Oleg", "o.smirnov", entity.RoleManager)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	env.fail(t, a, MaxLoginAttempts)
	ctx := context.Background()

	t.Run("non admin is forbidden", func(t *testing.T) {
		for _, actor := range []*entity.Account{manager, a, nil} {
			_, err := env.svc.Unblock(ctx, a.ID, actor)
			assert.ErrorIs(t, err, ErrForbidden)
		}
		cur := env.reload(t, a.ID)
		assert.False(t, cur.IsActive)
		assert.Equal(t, MaxLoginAttempts, cur.LoginAttempts)
		assert.Len(t, env.notifications(t, a.ID), 1)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := env.svc.Unblock(ctx, 424242, admin)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("admin unblocks", func(t *testing.T) {
		got, err := env.svc.Unblock(ctx, a.ID, admin)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.Zero(t, got.LoginAttempts)

		cur := env.reload(t, a.ID)
		assert.True(t, cur.IsActive)
		assert.Zero(t, cur.LoginAttempts)

		var unblocked int
		for _, n := range env.notifications(t, a.ID) {
			if n.Message == MsgAccountUnblocked {
				unblocked++
			}
		}
		assert.Equal(t, 1, unblocked)

		_, err = env.svc.Authenticate(ctx, a.EmailCorporate, goodPassword)
		assert.NoError(t, err)
	})
}

func TestReblockDoesNotDuplicateNotifications(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	ctx := context.Background()

	env.fail(t, a, MaxLoginAttempts)
	_, err := env.svc.Unblock(ctx, a.ID, admin)
	require.NoError(t, err)
	env.fail(t, a, MaxLoginAttempts)

	assert.False(t, env.reload(t, a.ID).IsActive)
	// one blocked + one unblocked for the account, one for the admin
	assert.Len(t, env.notifications(t, a.ID), 2)
	assert.Len(t, env.notifications(t, admin.ID), 1)
}

func TestConcurrentFailuresBlockExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		blocked int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Authenticate(context.Background(), a.EmailCorporate, "wrong-password")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidCredential):
				invalid++
			case errors.Is(err, ErrAccountBlocked):
				blocked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, MaxLoginAttempts-1, invalid)
	assert.Equal(t, n-(MaxLoginAttempts-1), blocked)
	cur := env.reload(t, a.ID)
	assert.False(t, cur.IsActive)
	assert.Equal(t, MaxLoginAttempts, cur.LoginAttempts)
	assert.Len(t, env.notifications(t, a.ID), 1)
	assert.Len(t, env.notifications(t, admin.ID), 1)
}

func TestBlockIsAtomicWithEscalation(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	ctx := context.Background()
	env.fail(t, a, MaxLoginAttempts-1)

	_, err := env.db.ExecContext(ctx, `DROP TABLE notifications`)
	require.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, a.EmailCorporate, "wrong-password")
	require.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrAccountBlocked)

	cur := env.reload(t, a.ID)
	assert.True(t, cur.IsActive, "block must roll back with the failed notification insert")
	assert.Equal(t, MaxLoginAttempts-1, cur.LoginAttempts)
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		_, err := env.svc.CreateAccount(ctx, &entity.Account{ID: 9, Role: entity.RoleManager}, NewAccount{})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("weak password persists nothing", func(t *testing.T) {
		_, err := env.svc.CreateAccount(ctx, root, NewAccount{
			FullName:      "Ivanov Ivan",
			Password:      "Ivanov!123",
			EmailPersonal: "ivan@example.com",
		})
		assert.ErrorIs(t, err, ErrWeakPassword)
		list, err := env.svc.Search(ctx, "ivanov")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := env.svc.CreateAccount(ctx, root, NewAccount{FullName: " ", Password: goodPassword, EmailPersonal: "x@y.z"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Ivanov Ivan", Password: goodPassword, EmailPersonal: "nope"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Ivanov Ivan", Password: goodPassword, EmailPersonal: "x@y.z", Role: "root"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("generated corporate emails avoid collisions", func(t *testing.T) {
		first, err := env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Иванов Иван", Password: goodPassword, EmailPersonal: "one@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "i.ivanov@cyber-ed.ru", first.EmailCorporate)
		assert.Equal(t, entity.RoleUser, first.Role)
		assert.True(t, first.IsActive)
		assert.Zero(t, first.LoginAttempts)
		assert.NotEqual(t, goodPassword, first.PasswordHash)

		second, err := env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Иванов Игорь", Password: goodPassword, EmailPersonal: "two@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "i.ivanov2@cyber-ed.ru", second.EmailCorporate)
	})

	t.Run("duplicate emails", func(t *testing.T) {
		_, err := env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Kuznetsov Ilya", Password: goodPassword, EmailPersonal: "ONE@example.com"})
		assert.ErrorIs(t, err, ErrEmailTaken)
		_, err = env.svc.CreateAccount(ctx, root, NewAccount{FullName: "Kuznetsov Ilya", Password: goodPassword, EmailPersonal: "three@example.com", EmailCorporate: "i.ivanov@cyber-ed.ru"})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestProfileAccess(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	b := env.create(t, "Sidorova Anna", "a.sidorova", entity.RoleManager)
	ctx := context.Background()

	got, err := env.svc.Profile(ctx, a, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.EmailCorporate, got.EmailCorporate)

	_, err = env.svc.Profile(ctx, a, b.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err = env.svc.Profile(ctx, admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = env.svc.Profile(ctx, admin, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	admin := env.create(t, "Petrov Petr", "p.petrov", entity.RoleAdmin)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	b := env.create(t, "Sidorova Anna", "a.sidorova", entity.RoleUser)
	ctx := context.Background()
	phone := "+7 900 000-00-00"
	manager := entity.RoleManager
	user := entity.RoleUser

	got, err := env.svc.UpdateProfile(ctx, a, a.ID, entity.ProfilePatch{PhoneNumber: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, got.PhoneNumber)
	assert.Equal(t, phone, env.reload(t, a.ID).PhoneNumber)

	_, err = env.svc.UpdateProfile(ctx, a, a.ID, entity.ProfilePatch{Role: &manager})
	assert.ErrorIs(t, err, ErrForbidden, "users can't promote themselves")

	_, err = env.svc.UpdateProfile(ctx, a, b.ID, entity.ProfilePatch{PhoneNumber: &phone})
	assert.ErrorIs(t, err, ErrForbidden)

	got, err = env.svc.UpdateProfile(ctx, admin, b.ID, entity.ProfilePatch{Role: &manager})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleManager, got.Role)

	got, err = env.svc.UpdateProfile(ctx, admin, admin.ID, entity.ProfilePatch{Role: &user})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, got.Role, "admin role is sticky")

	_, err = env.svc.UpdateProfile(ctx, admin, 999, entity.ProfilePatch{PhoneNumber: &phone})
	assert.ErrorIs(t, err, ErrNotFound)

	empty := "  "
	_, err = env.svc.UpdateProfile(ctx, a, a.ID, entity.ProfilePatch{FullName: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// security fields are untouched by profile updates
	env.fail(t, a, 2)
	_, err = env.svc.UpdateProfile(ctx, a, a.ID, entity.ProfilePatch{PhoneNumber: &phone})
	require.NoError(t, err)
	assert.Equal(t, 2, env.reload(t, a.ID).LoginAttempts)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleUser)
	env.create(t, "Sidorova Anna", "a.sidorova", entity.RoleUser)
	ctx := context.Background()

	list, err := env.svc.Search(ctx, "SIDOR")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sidorova Anna", list[0].FullName)

	list, err = env.svc.Search(ctx, "cyber-ed")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = env.svc.Search(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, list, "LIKE wildcards are escaped")

	_, err = env.svc.Search(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGeneratedEmailUsesEverySuffix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var last *entity.Account
	for i := 1; i <= maxEmailSuffixTry; i++ {
		a, err := env.svc.CreateAccount(ctx, root, NewAccount{
			FullName:      "Ivanov Ivan",
			Password:      goodPassword,
			EmailPersonal: fmt.Sprintf("ivan%d@example.com", i),
		})
		require.NoError(t, err, "create #%d", i)
		last = a
	}
	assert.Equal(t, fmt.Sprintf("i.ivanov%d@cyber-ed.ru", maxEmailSuffixTry), last.EmailCorporate)

	_, err := env.svc.CreateAccount(ctx, root, NewAccount{
		FullName:      "Ivanov Ivan",
		Password:      goodPassword,
		EmailPersonal: "ivan-extra@example.com",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestReadFailuresArePersistenceErrors(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Ivanov Ivan", "i.ivanov", entity.RoleAdmin)
	ctx := context.Background()
	require.NoError(t, env.db.Close())

	_, err := env.svc.AccountByEmail(ctx, a.EmailCorporate)
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = env.svc.Profile(ctx, a, a.ID)
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = env.svc.Search(ctx, "ivanov")
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = env.svc.Authenticate(ctx, a.EmailCorporate, goodPassword)
	assert.ErrorIs(t, err, ErrPersistence)
}
