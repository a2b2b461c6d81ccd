package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestSaveOpenDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "doc-1/1_report.pdf", strings.NewReader("%PDF-1.7"), 8, "application/pdf"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := s.Open(ctx, "doc-1/1_report.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "%PDF-1.7" {
		t.Fatalf("unexpected body %q", body)
	}

	if err := s.Delete(ctx, "doc-1/1_report.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "doc-1/1_report.pdf"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := s.Open(ctx, "doc-1/1_report.pdf"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound after delete, got %v", err)
	}
}

func TestRejectsKeysEscapingBase(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/abs/path", "", "a/../../b"} {
		if err := s.Save(context.Background(), key, strings.NewReader("x"), 1, "text/plain"); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", key, err)
		}
	}
}
