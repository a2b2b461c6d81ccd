package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

type identityFake struct {
	mu    sync.Mutex
	roles map[string][]domain.RoleName
	caps  map[domain.RoleName][]domain.Capability
	err   error
	calls atomic.Int64
}

func newIdentityFake() *identityFake {
	return &identityFake{
		roles: map[string][]domain.RoleName{},
		caps:  workflow.DefaultRoleCapabilities(),
	}
}

func (f *identityFake) grant(actorID string, roles ...domain.RoleName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[actorID] = append(f.roles[actorID], roles...)
}

func (f *identityFake) ResolveRoles(_ context.Context, actorID string) ([]domain.RoleName, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RoleName(nil), f.roles[actorID]...), nil
}

func (f *identityFake) ResolveCapabilities(_ context.Context, role domain.RoleName) ([]domain.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Capability(nil), f.caps[role]...), nil
}

func (f *identityFake) AssignRole(_ context.Context, a domain.RoleAssignment) error {
	f.grant(a.ActorID, a.Role)
	return nil
}

func (f *identityFake) RevokeRole(_ context.Context, actorID string, role domain.RoleName, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.roles[actorID][:0]
	for _, r := range f.roles[actorID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	f.roles[actorID] = kept
	return nil
}

func (f *identityFake) SetRoleCapabilities(_ context.Context, role domain.RoleName, caps []domain.Capability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps[role] = append([]domain.Capability(nil), caps...)
	return nil
}

func (f *identityFake) ListAssignments(context.Context, string) ([]domain.RoleAssignment, error) {
	return nil, errors.New("not implemented")
}

type workflowRepoFake struct {
	mu       sync.Mutex
	docs     map[string]*domain.Document
	versions []domain.DocumentVersion
	comments []domain.Comment
	audits   []domain.AuditEntry

	getErr    error
	commitErr error
	auditErr  error
	commits   int
}

func newWorkflowRepoFake(docs ...*domain.Document) *workflowRepoFake {
	f := &workflowRepoFake{docs: map[string]*domain.Document{}}
	for _, doc := range docs {
		f.docs[doc.ID] = doc.Clone()
	}
	return f
}

func (f *workflowRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc.Clone()
	return nil
}

func (f *workflowRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	return doc.Clone(), nil
}

func (f *workflowRepoFake) List(context.Context, domain.DocumentFilter, domain.Page) ([]domain.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, *doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *workflowRepoFake) UpdateMetadata(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id %s", doc.ID))
	}
	f.docs[doc.ID] = doc.Clone()
	return nil
}

func (f *workflowRepoFake) CommitTransition(_ context.Context, commit domain.TransitionCommit) (*domain.TransitionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	doc, ok := f.docs[commit.DocumentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "commit transition", fmt.Errorf("id %s", commit.DocumentID))
	}
	if doc.Status != commit.FromStatus {
		return nil, domain.WrapError(domain.ErrConflict, "commit transition", fmt.Errorf("status is %s", doc.Status))
	}
	doc.Apply(commit)
	f.commits++
	if commit.NewFile != nil {
		f.versions = append(f.versions, domain.DocumentVersion{
			DocumentID:   doc.ID,
			Version:      commit.NewVersion,
			File:         commit.NewFile,
			PreviousFile: commit.PreviousFile,
			CreatedBy:    commit.ActorID,
			CreatedAt:    commit.At,
		})
	}
	receipt := &domain.TransitionReceipt{Document: doc.Clone()}
	if f.auditErr != nil {
		receipt.AuditErr = f.auditErr
	} else {
		f.audits = append(f.audits, commit.Audit)
	}
	return receipt, nil
}

func (f *workflowRepoFake) ListVersions(_ context.Context, documentID string) ([]domain.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DocumentVersion
	for _, v := range f.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *workflowRepoFake) AddComment(_ context.Context, comment domain.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comment)
	return nil
}

func (f *workflowRepoFake) ListComments(_ context.Context, documentID string) ([]domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Comment
	for _, c := range f.comments {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *workflowRepoFake) status(id string) domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

func (f *workflowRepoFake) committedAudits() []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.audits...)
}

type auditLogFake struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (f *auditLogFake) Append(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *auditLogFake) Query(_ context.Context, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.AuditEntry
	for _, e := range f.entries {
		if filter.DocumentID != "" && e.DocumentID != filter.DocumentID {
			continue
		}
		matched = append(matched, e)
	}
	return domain.AuditPage{Entries: matched, Total: len(matched)}, nil
}

func (f *auditLogFake) recorded() []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...)
}

type fileStoreFake struct {
	mu          sync.Mutex
	validateErr error
	persistErr  error
	persisted   []domain.FileRef
	deleted     []string
}

func (f *fileStoreFake) Validate(_ context.Context, upload domain.FileUpload) (*domain.ValidatedFile, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	raw, err := io.ReadAll(upload.Body)
	if err != nil {
		return nil, err
	}
	return &domain.ValidatedFile{Filename: upload.Filename, MimeType: "application/pdf", Content: raw}, nil
}

func (f *fileStoreFake) Persist(_ context.Context, documentID string, file *domain.ValidatedFile) (domain.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return domain.FileRef{}, f.persistErr
	}
	ref := domain.FileRef{
		StorageKey: fmt.Sprintf("%s/%d_%s", documentID, len(f.persisted)+1, file.Filename),
		Filename:   file.Filename,
		Size:       file.Size(),
		MimeType:   file.MimeType,
	}
	f.persisted = append(f.persisted, ref)
	return ref, nil
}

func (f *fileStoreFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fileStoreFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type notifierFake struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (f *notifierFake) Notify(_ context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *notifierFake) notifications() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.sent...)
}

type schedulerFake struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (f *schedulerFake) ScheduleExpiry(_ context.Context, documentID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduled == nil {
		f.scheduled = map[string]time.Time{}
	}
	f.scheduled[documentID] = at
	return nil
}

type observerFake struct {
	mu            sync.Mutex
	outcomes      []string
	auditFailures int
	cacheHits     int
	cacheMisses   int
}

func (f *observerFake) ObserveTransition(_, _ domain.DocumentStatus, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *observerFake) ObserveAuditFailure(domain.AuditAction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditFailures++
}

func (f *observerFake) ObserveCapabilityLookup(hit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hit {
		f.cacheHits++
		return
	}
	f.cacheMisses++
}

func (f *observerFake) ObserveNotification(string) {}

// workflowHarness wires the transition pipeline over fakes.
type workflowHarness struct {
	identity  *identityFake
	repo      *workflowRepoFake
	auditLog  *auditLogFake
	files     *fileStoreFake
	notifier  *notifierFake
	scheduler *schedulerFake
	observer  *observerFake

	resolver   *CapabilityResolver
	authorizer *TransitionAuthorizer
	recorder   *AuditRecorder
	uc         *TransitionUseCase
}

func newWorkflowHarness(docs ...*domain.Document) *workflowHarness {
	h := &workflowHarness{
		identity:  newIdentityFake(),
		repo:      newWorkflowRepoFake(docs...),
		auditLog:  &auditLogFake{},
		files:     &fileStoreFake{},
		notifier:  &notifierFake{},
		scheduler: &schedulerFake{},
		observer:  &observerFake{},
	}
	h.resolver = NewCapabilityResolver(h.identity, time.Minute, h.observer)
	h.authorizer = NewTransitionAuthorizer(workflow.MustDefault(), h.resolver)
	h.recorder = NewAuditRecorder(h.auditLog, h.authorizer, h.observer)
	h.uc = NewTransitionUseCase(h.repo, h.authorizer, h.files, h.notifier, h.recorder, TransitionOptions{
		Scheduler: h.scheduler,
		Observer:  h.observer,
	})

	h.identity.grant("u-owner", domain.RoleEditor)
	h.identity.grant("u-mgr", domain.RoleManager)
	h.identity.grant("u-viewer", domain.RoleViewer)
	h.identity.grant("u-admin", domain.RoleAdmin)
	return h
}

func testDocument(id string, status domain.DocumentStatus) *domain.Document {
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return &domain.Document{
		ID:        id,
		Title:     "Quarterly report",
		Status:    status,
		OwnerID:   "u-owner",
		Version:   "1.0",
		File:      &domain.FileRef{StorageKey: id + "/original.pdf", Filename: "original.pdf", Size: 10, MimeType: "application/pdf"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}
