package domain

import (
	"io"
	"strconv"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusDraft           DocumentStatus = "DRAFT"
	StatusPendingReview   DocumentStatus = "PENDING_REVIEW"
	StatusPendingApproval DocumentStatus = "PENDING_APPROVAL"
	StatusApproved        DocumentStatus = "APPROVED"
	StatusPublished       DocumentStatus = "PUBLISHED"
	StatusRejected        DocumentStatus = "REJECTED"
	StatusArchived        DocumentStatus = "ARCHIVED"
	StatusExpired         DocumentStatus = "EXPIRED"
)

var allStatuses = []DocumentStatus{
	StatusDraft,
	StatusPendingReview,
	StatusPendingApproval,
	StatusApproved,
	StatusPublished,
	StatusRejected,
	StatusArchived,
	StatusExpired,
}

// AllStatuses returns the lifecycle states in declaration order.
func AllStatuses() []DocumentStatus {
	out := make([]DocumentStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s DocumentStatus) Valid() bool {
	for _, candidate := range allStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s DocumentStatus) Terminal() bool {
	return s == StatusExpired
}

func ParseDocumentStatus(raw string) (DocumentStatus, error) {
	status := DocumentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", WrapError(ErrInvalidInput, "parse status", NewValidationError(FieldError{
			Field:   "status",
			Message: "unknown status " + strconv.Quote(raw),
		}))
	}
	return status, nil
}

// FileRef points at a stored document blob.
type FileRef struct {
	StorageKey string `json:"storage_key"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
}

func (f *FileRef) Empty() bool {
	return f == nil || f.StorageKey == ""
}

type DocumentType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Document struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Status       DocumentStatus `json:"status"`
	OwnerID      string         `json:"owner_id"`
	TypeID       string         `json:"type_id,omitempty"`
	AccessGroups []string       `json:"access_groups"`
	File         *FileRef       `json:"file,omitempty"`
	Version      string         `json:"version"`
	IsPublic     bool           `json:"is_public"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy   string         `json:"approved_by,omitempty"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	Type     *DocumentType `json:"type,omitempty"`
	Creator  *UserRef      `json:"creator,omitempty"`
	Approver *UserRef      `json:"approver,omitempty"`
}

// Clone returns a deep copy safe to mutate.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.AccessGroups = append([]string(nil), d.AccessGroups...)
	if d.File != nil {
		file := *d.File
		out.File = &file
	}
	out.ApprovedAt = cloneTime(d.ApprovedAt)
	out.PublishedAt = cloneTime(d.PublishedAt)
	out.ExpiresAt = cloneTime(d.ExpiresAt)
	if d.Type != nil {
		t := *d.Type
		out.Type = &t
	}
	if d.Creator != nil {
		c := *d.Creator
		out.Creator = &c
	}
	if d.Approver != nil {
		a := *d.Approver
		out.Approver = &a
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type DocumentVersion struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Version      string    `json:"version"`
	File         *FileRef  `json:"file,omitempty"`
	PreviousFile *FileRef  `json:"previous_file,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type Comment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type DocumentFilter struct {
	Status  DocumentStatus
	OwnerID string
	TypeID  string
}

// FileUpload is an unvalidated file supplied by a caller.
type FileUpload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// ValidatedFile is a FileUpload that passed size, type and structure checks.
// Content holds the full payload so it can be persisted after validation.
type ValidatedFile struct {
	Filename string
	MimeType string
	Content  []byte
}

func (f *ValidatedFile) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Content))
}

// NextVersion bumps the major component of a "major.minor" version string.
func NextVersion(current string) string {
	major, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(current), "v"), ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 1 {
		return "2.0"
	}
	return strconv.Itoa(n+1) + ".0"
}

const InitialVersion = "1.0"
