package domain

import "time"

type NotificationType string

const (
	NotifyDocumentSubmitted NotificationType = "document_submitted"
	NotifyDocumentReviewed  NotificationType = "document_reviewed"
	NotifyDocumentApproved  NotificationType = "document_approved"
	NotifyDocumentPublished NotificationType = "document_published"
	NotifyDocumentRejected  NotificationType = "document_rejected"
	NotifyDocumentArchived  NotificationType = "document_archived"
	NotifyDocumentExpired   NotificationType = "document_expired"
	NotifyDocumentReturned  NotificationType = "document_returned"
)

// NotificationTypeFor maps the entered status to the owner-facing event.
func NotificationTypeFor(to DocumentStatus) NotificationType {
	switch to {
	case StatusPendingReview:
		return NotifyDocumentSubmitted
	case StatusPendingApproval:
		return NotifyDocumentReviewed
	case StatusApproved:
		return NotifyDocumentApproved
	case StatusPublished:
		return NotifyDocumentPublished
	case StatusRejected:
		return NotifyDocumentRejected
	case StatusArchived:
		return NotifyDocumentArchived
	case StatusExpired:
		return NotifyDocumentExpired
	default:
		return NotifyDocumentReturned
	}
}

// Keys of Notification.Data.
const (
	NotificationDataFromStatus = "from_status"
	NotificationDataToStatus   = "to_status"
	NotificationDataComment    = "comment"
)

type Notification struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Type       NotificationType  `json:"type"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	ActorID    string            `json:"actor_id"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
}
