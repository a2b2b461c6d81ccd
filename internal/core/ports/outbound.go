package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	// Create stores a new document together with its initial version record.
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter, page domain.Page) ([]domain.Document, int, error)
	UpdateMetadata(ctx context.Context, doc *domain.Document) error
	// CommitTransition applies a status change atomically. The update only
	// succeeds while the stored status still equals commit.FromStatus;
	// otherwise it returns ErrConflict (or ErrDocumentNotFound if the row is
	// gone). The audit entry is written in the same transaction when possible;
	// an audit-only failure is reported through TransitionReceipt.AuditErr.
	CommitTransition(ctx context.Context, commit domain.TransitionCommit) (*domain.TransitionReceipt, error)
	ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error)
	AddComment(ctx context.Context, comment domain.Comment) error
	ListComments(ctx context.Context, documentID string) ([]domain.Comment, error)
}

// AuditLog is an append-only history store.
type AuditLog interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	Query(ctx context.Context, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error)
}

// IdentityProvider resolves actors to their active roles and roles to capabilities.
type IdentityProvider interface {
	ResolveRoles(ctx context.Context, actorID string) ([]domain.RoleName, error)
	ResolveCapabilities(ctx context.Context, role domain.RoleName) ([]domain.Capability, error)
}

// RoleAssignmentStore mutates role data behind IdentityProvider.
type RoleAssignmentStore interface {
	AssignRole(ctx context.Context, assignment domain.RoleAssignment) error
	RevokeRole(ctx context.Context, actorID string, role domain.RoleName, at time.Time) error
	SetRoleCapabilities(ctx context.Context, role domain.RoleName, caps []domain.Capability) error
	ListAssignments(ctx context.Context, actorID string) ([]domain.RoleAssignment, error)
}

// Notifier delivers owner notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, notification domain.Notification) error
}

// NotificationSubscriber consumes notifications published through Notifier.
type NotificationSubscriber interface {
	SubscribeNotifications(ctx context.Context, handler func(context.Context, domain.Notification) error) error
}

// AccessChangeBroadcaster tells every process that an actor's roles or
// capabilities changed. An empty actor id marks every actor stale.
type AccessChangeBroadcaster interface {
	BroadcastAccessChange(ctx context.Context, actorID string) error
}

// AccessChangeListener receives changes broadcast by any process.
// SetAccessFeedHealthy(false) is called while changes may be missed.
type AccessChangeListener interface {
	AccessChanged(actorID string)
	SetAccessFeedHealthy(healthy bool)
}

// AccessChangeSubscriber attaches a listener until the returned func is called.
type AccessChangeSubscriber interface {
	SubscribeAccessChanges(listener AccessChangeListener) (unsubscribe func(), err error)
}

// NotificationInbox persists delivered notifications per user.
type NotificationInbox interface {
	Save(ctx context.Context, notification domain.Notification) error
	ListForUser(ctx context.Context, userID string, page domain.Page) ([]domain.Notification, error)
}

// ObjectStorage stores raw document blobs.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FileStore validates and persists document files.
type FileStore interface {
	Validate(ctx context.Context, upload domain.FileUpload) (*domain.ValidatedFile, error)
	Persist(ctx context.Context, documentID string, file *domain.ValidatedFile) (domain.FileRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ExpiryScheduler arranges for a published document to expire at a given time.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, documentID string, at time.Time) error
}

// WorkflowObserver receives workflow telemetry.
type WorkflowObserver interface {
	ObserveTransition(from, to domain.DocumentStatus, outcome string, duration time.Duration)
	ObserveAuditFailure(action domain.AuditAction)
	ObserveCapabilityLookup(cacheHit bool)
	ObserveNotification(status string)
}
