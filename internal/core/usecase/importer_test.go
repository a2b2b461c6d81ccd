package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestImportCreatesDraftsAndReportsBadRows(t *testing.T) {
	h := newWorkflowHarness()
	uc := NewImportDocumentsUseCase(h.repo, h.authorizer, h.recorder)

	report, err := uc.Import(context.Background(), "u-mgr", []domain.ImportRow{
		{Line: 2, Title: "Handbook", TypeID: "policy", AccessGroups: []string{"hr"}},
		{Line: 3, Title: "  "},
		{Line: 4, Title: "Contract", OwnerID: "u-owner", Version: "3.0"},
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(report.Created) != 2 {
		t.Fatalf("expected 2 created, got %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0].Line != 3 {
		t.Fatalf("expected line 3 to fail, got %+v", report.Failed)
	}

	for _, id := range report.Created {
		doc, err := h.repo.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if doc.Status != domain.StatusDraft {
			t.Fatalf("expected DRAFT, got %s", doc.Status)
		}
		if doc.Title == "Contract" && (doc.OwnerID != "u-owner" || doc.Version != "3.0") {
			t.Fatalf("expected explicit owner and version, got %+v", doc)
		}
		if doc.Title == "Handbook" && doc.OwnerID != "u-mgr" {
			t.Fatalf("expected importer as default owner, got %q", doc.OwnerID)
		}
	}
	if got := len(h.auditLog.recorded()); got != 2 {
		t.Fatalf("expected 2 import audit entries, got %d", got)
	}
}

func TestImportRequiresCapability(t *testing.T) {
	h := newWorkflowHarness()
	uc := NewImportDocumentsUseCase(h.repo, h.authorizer, h.recorder)

	if _, err := uc.Import(context.Background(), "u-viewer", []domain.ImportRow{{Line: 2, Title: "x"}}); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
