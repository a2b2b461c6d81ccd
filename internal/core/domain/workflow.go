package domain

import "time"

// TransitionRule declares that a document may move From -> To when the actor
// holds any of RequiredRoles or any of RequiredCapabilities.
type TransitionRule struct {
	From                 DocumentStatus `json:"from" yaml:"from"`
	To                   DocumentStatus `json:"to" yaml:"to"`
	RequiredRoles        []RoleName     `json:"required_roles,omitempty" yaml:"roles,omitempty"`
	RequiredCapabilities []Capability   `json:"required_capabilities,omitempty" yaml:"capabilities,omitempty"`
	Description          string         `json:"description" yaml:"description"`
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
	Rule    *TransitionRule
}

const (
	ReasonNoRule          = "no such transition defined"
	ReasonSuperCapability = "super capability"
	ReasonRole            = "required role"
	ReasonCapability      = "required capability"
	ReasonInsufficient    = "actor lacks required role or capability"
)

func Denied(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// TransitionRequest asks the executor to move a document to ToStatus.
// ExpectedStatus, when set, must match the stored status or the request fails
// with ErrConflict.
type TransitionRequest struct {
	DocumentID      string
	ToStatus        DocumentStatus
	ActorID         string
	ExpectedStatus  DocumentStatus
	Comment         string
	ReplacementFile *FileUpload
}

// TransitionCommit is everything the repository writes in one transaction.
type TransitionCommit struct {
	DocumentID   string
	FromStatus   DocumentStatus
	ToStatus     DocumentStatus
	ActorID      string
	At           time.Time
	IsPublic     bool
	ApprovedAt   *time.Time
	ApprovedBy   string
	PublishedAt  *time.Time
	NewFile      *FileRef
	PreviousFile *FileRef
	NewVersion   string
	Audit        AuditEntry
}

// Apply mutates the document to reflect a committed transition.
func (d *Document) Apply(commit TransitionCommit) {
	d.Status = commit.ToStatus
	d.IsPublic = commit.IsPublic
	d.ApprovedAt = cloneTime(commit.ApprovedAt)
	if d.ApprovedBy != commit.ApprovedBy {
		d.Approver = nil
	}
	d.ApprovedBy = commit.ApprovedBy
	d.PublishedAt = cloneTime(commit.PublishedAt)
	d.UpdatedAt = commit.At
	if commit.NewFile != nil {
		file := *commit.NewFile
		d.File = &file
		d.Version = commit.NewVersion
	}
}

// TransitionReceipt reports the committed document. AuditErr is set when the
// status change was committed but its audit entry could not be written.
type TransitionReceipt struct {
	Document *Document
	AuditErr error
}
