package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func encodeNotification(n domain.Notification) ([]byte, error) {
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.UserID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode notification", fmt.Errorf("id and user_id are required"))
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return payload, nil
}

func decodeNotification(payload []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Notification{}, domain.WrapError(domain.ErrInvalidInput, "decode notification", err)
	}
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.UserID) == "" {
		return domain.Notification{}, domain.WrapError(domain.ErrInvalidInput, "decode notification", fmt.Errorf("id and user_id are required"))
	}
	return n, nil
}
