package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// ExpireDocumentUseCase runs scheduled PUBLISHED -> EXPIRED transitions as
// the system actor. Stale jobs are no-ops.
type ExpireDocumentUseCase struct {
	repo        ports.DocumentRepository
	workflow    ports.WorkflowService
	scheduler   ports.ExpiryScheduler
	systemActor string
	now         func() time.Time
}

func NewExpireDocumentUseCase(
	repo ports.DocumentRepository,
	workflow ports.WorkflowService,
	scheduler ports.ExpiryScheduler,
	systemActor string,
) *ExpireDocumentUseCase {
	return &ExpireDocumentUseCase{
		repo:        repo,
		workflow:    workflow,
		scheduler:   scheduler,
		systemActor: systemActor,
		now:         time.Now,
	}
}

func (uc *ExpireDocumentUseCase) ExpireByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			slog.Info("expiry_skipped", "document_id", documentID, "reason", "not found")
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusPublished || doc.ExpiresAt == nil {
		slog.Info("expiry_skipped", "document_id", documentID, "status", string(doc.Status))
		return nil
	}
	if uc.now().Before(*doc.ExpiresAt) {
		// expires_at moved later after this job was scheduled.
		if uc.scheduler == nil {
			return nil
		}
		return uc.scheduler.ScheduleExpiry(ctx, doc.ID, *doc.ExpiresAt)
	}

	_, err = uc.workflow.Execute(ctx, domain.TransitionRequest{
		DocumentID:     doc.ID,
		ToStatus:       domain.StatusExpired,
		ActorID:        uc.systemActor,
		ExpectedStatus: domain.StatusPublished,
		Comment:        "expired automatically",
	})
	if domain.IsKind(err, domain.ErrConflict) {
		slog.Info("expiry_skipped", "document_id", documentID, "reason", "status changed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("expire document %s: %w", doc.ID, err)
	}
	return nil
}
