package domain

import "time"

type AuditAction string

const (
	AuditStatusChange     AuditAction = "status_change"
	AuditFileReplace      AuditAction = "file_replace"
	AuditDocumentCreated  AuditAction = "document_created"
	AuditDocumentUpdated  AuditAction = "document_updated"
	AuditComment          AuditAction = "comment"
	AuditDocumentImported AuditAction = "document_imported"
	AuditRoleAssigned     AuditAction = "role_assigned"
	AuditRoleRevoked      AuditAction = "role_revoked"
	AuditRoleCapabilities AuditAction = "role_capabilities_changed"
)

// AuditEntry is an immutable history record. Entries are never updated or
// deleted once appended.
type AuditEntry struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id,omitempty"`
	Action     AuditAction    `json:"action"`
	ActorID    string         `json:"actor_id"`
	FromStatus DocumentStatus `json:"from_status,omitempty"`
	ToStatus   DocumentStatus `json:"to_status,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	OldFile    *FileRef       `json:"old_file,omitempty"`
	NewFile    *FileRef       `json:"new_file,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type AuditFilter struct {
	DocumentID string
	ActorID    string
	Action     AuditAction
	From       *time.Time
	To         *time.Time
}

type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

func (p Page) Normalize() Page {
	out := p
	if out.Limit <= 0 {
		out.Limit = DefaultPageLimit
	}
	if out.Limit > MaxPageLimit {
		out.Limit = MaxPageLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}
