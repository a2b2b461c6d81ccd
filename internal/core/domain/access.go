package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Capability is a fine-grained permission token. The set is closed.
type Capability string

const (
	CapAdminAccess     Capability = "ADMIN_ACCESS"
	CapDocumentRead    Capability = "DOCUMENT_READ"
	CapDocumentCreate  Capability = "DOCUMENT_CREATE"
	CapDocumentEdit    Capability = "DOCUMENT_EDIT"
	CapDocumentSubmit  Capability = "DOCUMENT_SUBMIT"
	CapDocumentReview  Capability = "DOCUMENT_REVIEW"
	CapDocumentApprove Capability = "DOCUMENT_APPROVE"
	CapDocumentPublish Capability = "DOCUMENT_PUBLISH"
	CapDocumentExpire  Capability = "DOCUMENT_EXPIRE"
	CapDocumentArchive Capability = "DOCUMENT_ARCHIVE"
	CapDocumentImport  Capability = "DOCUMENT_IMPORT"
	CapAuditRead       Capability = "AUDIT_READ"
	CapRoleManage      Capability = "ROLE_MANAGE"
)

// SuperCapability grants every defined transition and every capability gate.
const SuperCapability = CapAdminAccess

var knownCapabilities = map[Capability]struct{}{
	CapAdminAccess:     {},
	CapDocumentRead:    {},
	CapDocumentCreate:  {},
	CapDocumentEdit:    {},
	CapDocumentSubmit:  {},
	CapDocumentReview:  {},
	CapDocumentApprove: {},
	CapDocumentPublish: {},
	CapDocumentExpire:  {},
	CapDocumentArchive: {},
	CapDocumentImport:  {},
	CapAuditRead:       {},
	CapRoleManage:      {},
}

func (c Capability) Valid() bool {
	_, ok := knownCapabilities[c]
	return ok
}

func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", WrapError(ErrInvalidInput, "parse capability", NewValidationError(FieldError{
			Field:   "capability",
			Message: "unknown capability " + strconv.Quote(raw),
		}))
	}
	return c, nil
}

type RoleName string

const (
	RoleAdmin     RoleName = "admin"
	RoleManager   RoleName = "manager"
	RoleEditor    RoleName = "editor"
	RoleReviewer  RoleName = "reviewer"
	RoleApprover  RoleName = "approver"
	RolePublisher RoleName = "publisher"
	RoleViewer    RoleName = "viewer"
	RoleSystem    RoleName = "system"
)

func NormalizeRole(raw string) RoleName {
	return RoleName(strings.ToLower(strings.TrimSpace(raw)))
}

// RoleAssignment links an actor to a role. Revoked or inactive assignments
// contribute nothing to effective access.
type RoleAssignment struct {
	ActorID   string     `json:"actor_id"`
	Role      RoleName   `json:"role"`
	Active    bool       `json:"active"`
	GrantedBy string     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// EffectiveAccess is the resolved set of roles and capabilities of one actor.
type EffectiveAccess struct {
	ActorID      string
	Roles        map[RoleName]struct{}
	Capabilities map[Capability]struct{}
	ResolvedAt   time.Time
}

func NewEffectiveAccess(actorID string, roles []RoleName, caps []Capability, at time.Time) EffectiveAccess {
	access := EffectiveAccess{
		ActorID:      actorID,
		Roles:        make(map[RoleName]struct{}, len(roles)),
		Capabilities: make(map[Capability]struct{}, len(caps)),
		ResolvedAt:   at,
	}
	for _, role := range roles {
		access.Roles[role] = struct{}{}
	}
	for _, c := range caps {
		access.Capabilities[c] = struct{}{}
	}
	return access
}

func (a EffectiveAccess) HasRole(role RoleName) bool {
	_, ok := a.Roles[role]
	return ok
}

func (a EffectiveAccess) HasCapability(c Capability) bool {
	_, ok := a.Capabilities[c]
	return ok
}

func (a EffectiveAccess) IsSuper() bool {
	return a.HasCapability(SuperCapability)
}

func (a EffectiveAccess) Empty() bool {
	return len(a.Roles) == 0 && len(a.Capabilities) == 0
}

func (a EffectiveAccess) RoleList() []RoleName {
	out := make([]RoleName, 0, len(a.Roles))
	for role := range a.Roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a EffectiveAccess) CapabilityList() []Capability {
	out := make([]Capability, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
