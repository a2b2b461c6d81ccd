// Package memory is an in-process implementation of the repository ports,
// used for STORAGE_DRIVER=memory and HTTP tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

type Store struct {
	mu sync.RWMutex

	docs          map[string]*domain.Document
	versions      []domain.DocumentVersion
	comments      []domain.Comment
	audit         []domain.AuditEntry
	auditIDs      map[string]struct{}
	roleCaps      map[domain.RoleName][]domain.Capability
	assignments   map[string]map[domain.RoleName]domain.RoleAssignment
	notifications []domain.Notification
	notifyIDs     map[string]struct{}
	users         map[string]domain.UserRef
	types         map[string]domain.DocumentType
}

func NewStore() *Store {
	return &Store{
		docs:        map[string]*domain.Document{},
		auditIDs:    map[string]struct{}{},
		roleCaps:    workflow.DefaultRoleCapabilities(),
		assignments: map[string]map[domain.RoleName]domain.RoleAssignment{},
		notifyIDs:   map[string]struct{}{},
		users:       map[string]domain.UserRef{},
		types:       map[string]domain.DocumentType{},
	}
}

func (s *Store) PutUser(user domain.UserRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) PutDocumentType(t domain.DocumentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t.ID] = t
}

func (s *Store) Create(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("id=%s already exists", doc.ID))
	}
	s.docs[doc.ID] = doc.Clone()
	s.versions = append(s.versions, domain.DocumentVersion{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Version:    doc.Version,
		File:       cloneFile(doc.File),
		CreatedBy:  doc.OwnerID,
		CreatedAt:  doc.CreatedAt,
	})
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	return s.withRelations(doc), nil
}

func (s *Store) List(_ context.Context, filter domain.DocumentFilter, page domain.Page) ([]domain.Document, int, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.TypeID != "" && doc.TypeID != filter.TypeID {
			continue
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	out := make([]domain.Document, 0, page.Limit)
	for i := page.Offset; i < len(matched) && len(out) < page.Limit; i++ {
		out = append(out, *s.withRelations(matched[i]))
	}
	return out, len(matched), nil
}

func (s *Store) UpdateMetadata(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.docs[doc.ID]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id=%s", doc.ID))
	}
	stored.Title = doc.Title
	stored.TypeID = doc.TypeID
	stored.AccessGroups = append([]string(nil), doc.AccessGroups...)
	if doc.ExpiresAt != nil {
		at := *doc.ExpiresAt
		stored.ExpiresAt = &at
	} else {
		stored.ExpiresAt = nil
	}
	stored.UpdatedAt = doc.UpdatedAt
	return nil
}

// CommitTransition compares and swaps the status under the store lock and
// appends the version and audit records with it.
func (s *Store) CommitTransition(_ context.Context, commit domain.TransitionCommit) (*domain.TransitionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[commit.DocumentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "commit transition", fmt.Errorf("id=%s", commit.DocumentID))
	}
	if doc.Status != commit.FromStatus {
		return nil, domain.WrapError(domain.ErrConflict, "commit transition", fmt.Errorf("status is %s, expected %s", doc.Status, commit.FromStatus))
	}
	doc.Apply(commit)
	if commit.NewFile != nil {
		s.versions = append(s.versions, domain.DocumentVersion{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Version:      commit.NewVersion,
			File:         cloneFile(commit.NewFile),
			PreviousFile: cloneFile(commit.PreviousFile),
			CreatedBy:    commit.ActorID,
			CreatedAt:    commit.At,
		})
	}
	s.appendAuditLocked(commit.Audit)
	return &domain.TransitionReceipt{Document: s.withRelations(doc)}, nil
}

func (s *Store) ListVersions(_ context.Context, documentID string) ([]domain.DocumentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DocumentVersion, 0)
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) AddComment(_ context.Context, comment domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[comment.DocumentID]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "add comment", fmt.Errorf("id=%s", comment.DocumentID))
	}
	s.comments = append(s.comments, comment)
	return nil
}

func (s *Store) ListComments(_ context.Context, documentID string) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Comment, 0)
	for _, c := range s.comments {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) Append(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) appendAuditLocked(entry domain.AuditEntry) {
	if entry.ID != "" {
		if _, seen := s.auditIDs[entry.ID]; seen {
			return
		}
		s.auditIDs[entry.ID] = struct{}{}
	}
	s.audit = append(s.audit, entry)
}

func (s *Store) Query(_ context.Context, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.DocumentID != "" && e.DocumentID != filter.DocumentID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	entries := make([]domain.AuditEntry, 0, page.Limit)
	for i := page.Offset; i < len(matched) && len(entries) < page.Limit; i++ {
		entries = append(entries, matched[i])
	}
	return domain.AuditPage{Entries: entries, Total: len(matched), Limit: page.Limit, Offset: page.Offset}, nil
}

func (s *Store) ResolveRoles(_ context.Context, actorID string) ([]domain.RoleName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoleName, 0)
	for role, a := range s.assignments[actorID] {
		if a.Active && a.RevokedAt == nil {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) ResolveCapabilities(_ context.Context, role domain.RoleName) ([]domain.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Capability(nil), s.roleCaps[role]...), nil
}

func (s *Store) AssignRole(_ context.Context, assignment domain.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments[assignment.ActorID] == nil {
		s.assignments[assignment.ActorID] = map[domain.RoleName]domain.RoleAssignment{}
	}
	assignment.Active = true
	assignment.RevokedAt = nil
	s.assignments[assignment.ActorID][assignment.Role] = assignment
	return nil
}

func (s *Store) RevokeRole(_ context.Context, actorID string, role domain.RoleName, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[actorID][role]
	if !ok || !a.Active {
		return domain.WrapError(domain.ErrInvalidInput, "revoke role", domain.NewValidationError(domain.FieldError{
			Field:   "role",
			Message: fmt.Sprintf("actor %s does not hold role %s", actorID, role),
		}))
	}
	a.Active = false
	a.RevokedAt = &at
	s.assignments[actorID][role] = a
	return nil
}

func (s *Store) SetRoleCapabilities(_ context.Context, role domain.RoleName, caps []domain.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleCaps[role] = append([]domain.Capability(nil), caps...)
	return nil
}

func (s *Store) ListAssignments(_ context.Context, actorID string) ([]domain.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoleAssignment, 0, len(s.assignments[actorID]))
	for _, a := range s.assignments[actorID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (s *Store) Save(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.notifyIDs[n.ID]; seen {
		return nil
	}
	s.notifyIDs[n.ID] = struct{}{}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListForUser(_ context.Context, userID string, page domain.Page) ([]domain.Notification, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			matched = append(matched, s.notifications[i])
		}
	}
	out := make([]domain.Notification, 0, page.Limit)
	for i := page.Offset; i < len(matched) && len(out) < page.Limit; i++ {
		out = append(out, matched[i])
	}
	return out, nil
}

func (s *Store) withRelations(doc *domain.Document) *domain.Document {
	out := doc.Clone()
	if t, ok := s.types[out.TypeID]; ok {
		out.Type = &t
	}
	if u, ok := s.users[out.OwnerID]; ok {
		out.Creator = &u
	}
	if u, ok := s.users[out.ApprovedBy]; ok && out.ApprovedBy != "" {
		out.Approver = &u
	}
	return out
}

func cloneFile(ref *domain.FileRef) *domain.FileRef {
	if ref == nil {
		return nil
	}
	out := *ref
	return &out
}
