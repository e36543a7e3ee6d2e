package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-staff/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-staff/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

var ErrNotFoundOrNotOwned = errors.New("notification not found")

// Service is the notification sink: an append-only log holding at most one
// notification per (account, message).
type Service struct {
	repo *repo.NotificationRepo
	ids  *utilities.IDGenerator
	now  func() time.Time
}

func NewService(r *repo.NotificationRepo, ids *utilities.IDGenerator) *Service {
	return &Service{repo: r, ids: ids, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a sink whose writes join tx.
func (s *Service) WithTx(tx *sqlx.Tx) *Service {
	return &Service{repo: s.repo.WithTx(tx), ids: s.ids, now: s.now}
}

// Notify appends a notification. It returns nil without error when the
// account already has one with the same message.
func (s *Service) Notify(ctx context.Context, accountID int64, message string, data *entity.Payload) (*entity.Notification, error) {
	n := &entity.Notification{
		ID:        s.ids.Next(),
		AccountID: accountID,
		Message:   message,
		Data:      data,
		CreatedAt: s.now(),
	}
	inserted, err := s.repo.Insert(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	return n, nil
}

// ListFor returns the account's notifications, newest first.
func (s *Service) ListFor(ctx context.Context, accountID int64) ([]*entity.Notification, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// MarkRead flags a notification owned by requestingAccountID as read.
func (s *Service) MarkRead(ctx context.Context, id, requestingAccountID int64) error {
	rows, err := s.repo.MarkRead(ctx, id, requestingAccountID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFoundOrNotOwned
	}
	return nil
}
