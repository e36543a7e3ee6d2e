package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	accountentity "github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-staff/internal/news/entity"
	"github.com/ovaphlow/pitchfork/service-staff/internal/news/repo"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

var (
	ErrNotFound     = errors.New("news not found")
	ErrForbidden    = errors.New("not enough permissions")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Service publishes company news. Everyone signed in reads active items;
// admins write, and only the author may edit or withdraw an item.
type Service struct {
	db     *sqlx.DB
	repo   *repo.NewsRepo
	ids    *utilities.IDGenerator
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(db *sqlx.DB, ids *utilities.IDGenerator, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		db:     db,
		repo:   repo.NewNewsRepo(db),
		ids:    ids,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns active news, newest first. A non-positive limit means
// DefaultPageSize; limits above MaxPageSize are capped.
func (s *Service) List(ctx context.Context, offset, limit int) ([]*entity.News, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	list, err := s.repo.ListActive(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	return list, nil
}

// Get returns an active item. Inactive items read as missing.
func (s *Service) Get(ctx context.Context, id int64) (*entity.News, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get news: %w", err)
	}
	if !n.IsActive {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *Service) Create(ctx context.Context, actor *accountentity.Account, title, content string) (*entity.News, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalidInput)
	}
	now := s.now()
	n := &entity.News{
		ID:        s.ids.Next(),
		Title:     title,
		Content:   content,
		CreatedBy: actor.ID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create news: %w", err)
	}
	s.logger.Infow("news.created", "news_id", n.ID, "admin_id", actor.ID, "title", n.Title)
	return n, nil
}

// Update applies patch to the actor's own item. Inactive items can be
// edited and re-activated by their author.
func (s *Service) Update(ctx context.Context, actor *accountentity.Account, id int64, patch entity.Patch) (*entity.News, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}
	return s.modify(ctx, actor, id, func(n *entity.News) {
		if patch.Title != nil {
			n.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Content != nil {
			n.Content = *patch.Content
		}
		if patch.IsActive != nil {
			n.IsActive = *patch.IsActive
		}
	})
}

// Delete withdraws the actor's own item by marking it inactive.
func (s *Service) Delete(ctx context.Context, actor *accountentity.Account, id int64) error {
	_, err := s.modify(ctx, actor, id, func(n *entity.News) { n.IsActive = false })
	return err
}

func (s *Service) modify(ctx context.Context, actor *accountentity.Account, id int64, apply func(*entity.News)) (*entity.News, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r := s.repo.WithTx(tx)
	n, err := r.GetByIDForUpdate(ctx, id)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get news: %w", err)
	}
	if n.CreatedBy != actor.ID {
		return nil, ErrForbidden
	}
	apply(n)
	n.UpdatedAt = s.now()
	if err := r.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("update news: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.logger.Infow("news.updated", "news_id", n.ID, "admin_id", actor.ID, "active", n.IsActive)
	return n, nil
}
