package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// NotificationUseCase stores notifications consumed by the worker and serves
// each user's inbox.
type NotificationUseCase struct {
	inbox ports.NotificationInbox
}

func NewNotificationUseCase(inbox ports.NotificationInbox) *NotificationUseCase {
	return &NotificationUseCase{inbox: inbox}
}

func (uc *NotificationUseCase) Deliver(ctx context.Context, notification domain.Notification) error {
	if strings.TrimSpace(notification.UserID) == "" || strings.TrimSpace(notification.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "deliver notification", fmt.Errorf("notification id and user id are required"))
	}
	if err := uc.inbox.Save(ctx, notification); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// Notify delivers in process; it stands in for the broker when none is
// configured.
func (uc *NotificationUseCase) Notify(ctx context.Context, notification domain.Notification) error {
	return uc.Deliver(ctx, notification)
}

func (uc *NotificationUseCase) ListForUser(ctx context.Context, userID string, page domain.Page) ([]domain.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "list notifications", fmt.Errorf("actor is required"))
	}
	items, err := uc.inbox.ListForUser(ctx, userID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}
