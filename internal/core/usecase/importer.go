package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const MaxImportRows = 5000

// ImportDocumentsUseCase creates draft documents from parsed CSV/XLSX rows.
// Rows fail independently.
type ImportDocumentsUseCase struct {
	repo       ports.DocumentRepository
	authorizer *TransitionAuthorizer
	audit      *AuditRecorder
	now        func() time.Time
}

func NewImportDocumentsUseCase(
	repo ports.DocumentRepository,
	authorizer *TransitionAuthorizer,
	audit *AuditRecorder,
) *ImportDocumentsUseCase {
	return &ImportDocumentsUseCase{
		repo:       repo,
		authorizer: authorizer,
		audit:      audit,
		now:        time.Now,
	}
}

func (uc *ImportDocumentsUseCase) Import(ctx context.Context, actorID string, rows []domain.ImportRow) (domain.ImportReport, error) {
	report := domain.ImportReport{Created: []string{}, Failed: []domain.ImportRowError{}}
	if err := uc.authorizer.Require(ctx, actorID, domain.CapDocumentImport); err != nil {
		return report, err
	}
	if len(rows) > MaxImportRows {
		return report, domain.WrapError(domain.ErrInvalidInput, "import documents", domain.NewValidationError(domain.FieldError{
			Field:   "rows",
			Message: fmt.Sprintf("at most %d rows per import", MaxImportRows),
		}))
	}

	for _, row := range rows {
		id, err := uc.importRow(ctx, actorID, row)
		if err != nil {
			report.Failed = append(report.Failed, domain.ImportRowError{Line: row.Line, Message: err.Error()})
			continue
		}
		report.Created = append(report.Created, id)
	}
	return report, nil
}

func (uc *ImportDocumentsUseCase) importRow(ctx context.Context, actorID string, row domain.ImportRow) (string, error) {
	title := strings.TrimSpace(row.Title)
	verr := domain.NewValidationError()
	validateTitle(verr, title)
	if err := verr.OrNil(); err != nil {
		return "", err
	}

	owner := strings.TrimSpace(row.OwnerID)
	if owner == "" {
		owner = actorID
	}
	version := strings.TrimSpace(row.Version)
	if version == "" {
		version = domain.InitialVersion
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		ID:           uuid.NewString(),
		Title:        title,
		Status:       domain.StatusDraft,
		OwnerID:      owner,
		TypeID:       strings.TrimSpace(row.TypeID),
		AccessGroups: normalizeGroups(row.AccessGroups),
		Version:      version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		DocumentID: doc.ID,
		Action:     domain.AuditDocumentImported,
		ActorID:    actorID,
		ToStatus:   domain.StatusDraft,
		After:      metadataSnapshot(doc),
	})
	return doc.ID, nil
}
