package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// WorkflowService is the inbound contract for document status transitions.
type WorkflowService interface {
	Execute(ctx context.Context, req domain.TransitionRequest) (*domain.Document, error)
	AllowedTransitions(ctx context.Context, actorID, documentID string) ([]domain.TransitionRule, error)
	Rules() []domain.TransitionRule
}

// DocumentService is the inbound contract for document metadata and comments.
type DocumentService interface {
	Create(ctx context.Context, req CreateDocumentRequest) (*domain.Document, error)
	Get(ctx context.Context, actorID, documentID string) (*domain.Document, error)
	List(ctx context.Context, actorID string, filter domain.DocumentFilter, page domain.Page) ([]domain.Document, int, error)
	UpdateMetadata(ctx context.Context, req UpdateDocumentRequest) (*domain.Document, error)
	ListVersions(ctx context.Context, actorID, documentID string) ([]domain.DocumentVersion, error)
	AddComment(ctx context.Context, actorID, documentID, body string) (*domain.Comment, error)
	ListComments(ctx context.Context, actorID, documentID string) ([]domain.Comment, error)
}

type CreateDocumentRequest struct {
	ActorID      string
	Title        string
	TypeID       string
	AccessGroups []string
	ExpiresAt    *time.Time
	File         *domain.FileUpload
}

// UpdateDocumentRequest patches metadata; nil fields are left unchanged.
type UpdateDocumentRequest struct {
	ActorID      string
	DocumentID   string
	Title        *string
	TypeID       *string
	AccessGroups *[]string
	ExpiresAt    *time.Time
}

// AuditService is the read side of the audit trail.
type AuditService interface {
	Query(ctx context.Context, actorID string, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error)
}

// RoleService manages role assignments and role capabilities.
type RoleService interface {
	Assign(ctx context.Context, actorID, userID string, role domain.RoleName) error
	Revoke(ctx context.Context, actorID, userID string, role domain.RoleName) error
	SetCapabilities(ctx context.Context, actorID string, role domain.RoleName, caps []domain.Capability) error
	Effective(ctx context.Context, actorID, userID string) (domain.EffectiveAccess, error)
}

// DocumentImporter creates draft documents in bulk.
type DocumentImporter interface {
	Import(ctx context.Context, actorID string, rows []domain.ImportRow) (domain.ImportReport, error)
}

// NotificationReader lists a user's delivered notifications.
type NotificationReader interface {
	ListForUser(ctx context.Context, userID string, page domain.Page) ([]domain.Notification, error)
}
