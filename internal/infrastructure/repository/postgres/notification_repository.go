package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save is idempotent on notification id so redelivered messages are stored once.
func (r *NotificationRepository) Save(ctx context.Context, n domain.Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO notifications (id, user_id, type, document_id, title, message, actor_id, data, created_at, read_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`, n.ID, n.UserID, string(n.Type), n.DocumentID, n.Title, n.Message, n.ActorID, dataJSON, n.CreatedAt, n.ReadAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, page domain.Page) ([]domain.Notification, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, type, document_id, title, message, actor_id, data, created_at, read_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var kind string
		var dataRaw []byte
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.DocumentID, &n.Title, &n.Message, &n.ActorID, &dataRaw, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(kind)
		if len(dataRaw) > 0 {
			if err := json.Unmarshal(dataRaw, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
