package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func seedDocument(t *testing.T, s *Store, id string, status domain.DocumentStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.Create(context.Background(), &domain.Document{
		ID:        id,
		Title:     "Report",
		Status:    status,
		OwnerID:   "u-owner",
		Version:   domain.InitialVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestCommitTransitionAllowsExactlyOneConcurrentWinner(t *testing.T) {
	s := NewStore()
	seedDocument(t, s, "doc-1", domain.StatusPendingApproval)

	targets := []domain.DocumentStatus{domain.StatusApproved, domain.StatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to domain.DocumentStatus) {
			defer wg.Done()
			_, errs[i] = s.CommitTransition(context.Background(), domain.TransitionCommit{
				DocumentID: "doc-1",
				FromStatus: domain.StatusPendingApproval,
				ToStatus:   to,
				At:         time.Now().UTC(),
				Audit:      domain.AuditEntry{ID: string(to), DocumentID: "doc-1", Action: domain.AuditStatusChange},
			})
		}(i, to)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case domain.IsKind(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", succeeded, conflicts)
	}
	page, _ := s.Query(context.Background(), domain.AuditFilter{DocumentID: "doc-1"}, domain.Page{})
	if page.Total != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", page.Total)
	}
}

func TestCommitTransitionRecordsReplacementVersion(t *testing.T) {
	s := NewStore()
	seedDocument(t, s, "doc-1", domain.StatusDraft)

	_, err := s.CommitTransition(context.Background(), domain.TransitionCommit{
		DocumentID: "doc-1",
		FromStatus: domain.StatusDraft,
		ToStatus:   domain.StatusPendingReview,
		NewFile:    &domain.FileRef{StorageKey: "doc-1/2_v2.pdf", Filename: "v2.pdf"},
		NewVersion: "2.0",
		At:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CommitTransition() error = %v", err)
	}
	versions, _ := s.ListVersions(context.Background(), "doc-1")
	if len(versions) != 2 || versions[1].Version != "2.0" {
		t.Fatalf("expected initial and replacement versions, got %+v", versions)
	}
}

func TestAuditAppendIgnoresReplayedID(t *testing.T) {
	s := NewStore()
	entry := domain.AuditEntry{ID: "a-1", Action: domain.AuditComment, CreatedAt: time.Now()}

	_ = s.Append(context.Background(), entry)
	_ = s.Append(context.Background(), entry)

	page, _ := s.Query(context.Background(), domain.AuditFilter{}, domain.Page{})
	if page.Total != 1 {
		t.Fatalf("expected one entry, got %d", page.Total)
	}
}

func TestRevokedRolesDoNotResolve(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_ = s.AssignRole(ctx, domain.RoleAssignment{ActorID: "u-1", Role: domain.RoleEditor, GrantedAt: time.Now()})
	_ = s.AssignRole(ctx, domain.RoleAssignment{ActorID: "u-1", Role: domain.RoleReviewer, GrantedAt: time.Now()})

	if err := s.RevokeRole(ctx, "u-1", domain.RoleEditor, time.Now()); err != nil {
		t.Fatalf("RevokeRole() error = %v", err)
	}
	roles, _ := s.ResolveRoles(ctx, "u-1")
	if len(roles) != 1 || roles[0] != domain.RoleReviewer {
		t.Fatalf("expected only reviewer, got %v", roles)
	}
	if err := s.RevokeRole(ctx, "u-1", domain.RoleEditor, time.Now()); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on second revoke, got %v", err)
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Hour)
		_ = s.Create(context.Background(), &domain.Document{ID: id, Status: domain.StatusDraft, CreatedAt: at, UpdatedAt: at})
	}

	docs, total, err := s.List(context.Background(), domain.DocumentFilter{Status: domain.StatusDraft}, domain.Page{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 || len(docs) != 2 || docs[0].ID != "b" || docs[1].ID != "a" {
		t.Fatalf("unexpected page: total=%d docs=%+v", total, docs)
	}
}
