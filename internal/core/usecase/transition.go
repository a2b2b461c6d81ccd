package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const (
	DefaultMaxCommentLength = 2000
	notificationTimeout     = 10 * time.Second
)

type TransitionOptions struct {
	MaxCommentLength int
	Scheduler        ports.ExpiryScheduler
	Observer         ports.WorkflowObserver
	Now              func() time.Time
}

// TransitionUseCase runs the status transition pipeline: load, optimistic
// status check, authorization, validation, file persistence, atomic commit,
// then notification and expiry scheduling.
type TransitionUseCase struct {
	repo       ports.DocumentRepository
	authorizer *TransitionAuthorizer
	files      ports.FileStore
	notifier   ports.Notifier
	audit      *AuditRecorder

	scheduler        ports.ExpiryScheduler
	observer         ports.WorkflowObserver
	maxCommentLength int
	now              func() time.Time

	pending sync.WaitGroup
}

func NewTransitionUseCase(
	repo ports.DocumentRepository,
	authorizer *TransitionAuthorizer,
	files ports.FileStore,
	notifier ports.Notifier,
	audit *AuditRecorder,
	options TransitionOptions,
) *TransitionUseCase {
	uc := &TransitionUseCase{
		repo:             repo,
		authorizer:       authorizer,
		files:            files,
		notifier:         notifier,
		audit:            audit,
		scheduler:        options.Scheduler,
		observer:         options.Observer,
		maxCommentLength: options.MaxCommentLength,
		now:              options.Now,
	}
	if uc.observer == nil {
		uc.observer = noopObserver{}
	}
	if uc.maxCommentLength <= 0 {
		uc.maxCommentLength = DefaultMaxCommentLength
	}
	if uc.now == nil {
		uc.now = time.Now
	}
	return uc
}

func (uc *TransitionUseCase) Execute(ctx context.Context, req domain.TransitionRequest) (*domain.Document, error) {
	start := time.Now()
	var from domain.DocumentStatus
	doc, err := uc.execute(ctx, req, &from)
	uc.observer.ObserveTransition(from, req.ToStatus, outcomeOf(err), time.Since(start))
	return doc, err
}

func (uc *TransitionUseCase) execute(ctx context.Context, req domain.TransitionRequest, from *domain.DocumentStatus) (*domain.Document, error) {
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	if req.DocumentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "transition document", domain.NewValidationError(domain.FieldError{
			Field:   "document_id",
			Message: "is required",
		}))
	}

	current, err := uc.loadCurrent(ctx, req)
	if err != nil {
		return nil, err
	}
	*from = current.Status

	if err := uc.authorize(ctx, current, req); err != nil {
		return nil, err
	}

	comment, upload, err := uc.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	newFile, err := uc.persistFile(ctx, current.ID, upload)
	if err != nil {
		return nil, err
	}

	commit := uc.buildCommit(current, req, comment, newFile)
	receipt, err := uc.repo.CommitTransition(ctx, commit)
	if err != nil {
		uc.discardFile(ctx, newFile)
		if domain.IsKind(err, domain.ErrConflict) || domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	if receipt.AuditErr != nil {
		uc.audit.Retry(ctx, commit.Audit, receipt.AuditErr)
	}

	updated := receipt.Document
	slog.Info("transition_committed",
		"document_id", updated.ID,
		"from", string(commit.FromStatus),
		"to", string(commit.ToStatus),
		"actor_id", req.ActorID,
		"file_replaced", newFile != nil,
	)

	uc.notifyOwner(ctx, updated, commit)
	uc.scheduleExpiry(ctx, updated, commit)
	return updated, nil
}

// AllowedTransitions lists the transitions the actor may perform on a document.
func (uc *TransitionUseCase) AllowedTransitions(ctx context.Context, actorID, documentID string) ([]domain.TransitionRule, error) {
	doc, err := uc.repo.GetByID(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return nil, err
	}
	return uc.authorizer.AllowedTransitions(ctx, doc, strings.TrimSpace(actorID))
}

func (uc *TransitionUseCase) Rules() []domain.TransitionRule {
	return uc.authorizer.Rules()
}

// Wait blocks until in-flight owner notifications finish.
func (uc *TransitionUseCase) Wait() {
	uc.pending.Wait()
}

func (uc *TransitionUseCase) loadCurrent(ctx context.Context, req domain.TransitionRequest) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, req.DocumentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	if req.ExpectedStatus != "" && req.ExpectedStatus != doc.Status {
		return nil, domain.WrapError(domain.ErrConflict, "transition document", fmt.Errorf(
			"document %s is %s, expected %s", doc.ID, doc.Status, req.ExpectedStatus,
		))
	}
	return doc, nil
}

func (uc *TransitionUseCase) authorize(ctx context.Context, doc *domain.Document, req domain.TransitionRequest) error {
	decision, err := uc.authorizer.Authorize(ctx, doc, req.ToStatus, req.ActorID)
	if err != nil {
		return fmt.Errorf("authorize transition: %w", err)
	}
	if !decision.Allowed {
		return domain.WrapError(domain.ErrForbidden, "transition document", fmt.Errorf(
			"%s -> %s: %s", doc.Status, req.ToStatus, decision.Reason,
		))
	}
	return nil
}

func (uc *TransitionUseCase) validate(ctx context.Context, req domain.TransitionRequest) (string, *domain.ValidatedFile, error) {
	comment := strings.TrimSpace(req.Comment)
	verr := domain.NewValidationError()
	if utf8.RuneCountInString(comment) > uc.maxCommentLength {
		verr.Add("comment", fmt.Sprintf("must be at most %d characters", uc.maxCommentLength))
	}
	if err := verr.OrNil(); err != nil {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "validate transition", err)
	}

	if req.ReplacementFile == nil {
		return comment, nil, nil
	}
	if uc.files == nil {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "validate transition", domain.NewValidationError(domain.FieldError{
			Field:   "file",
			Message: "file replacement is not supported",
		}))
	}
	file, err := uc.files.Validate(ctx, *req.ReplacementFile)
	if err != nil {
		// Rejections are already ErrInvalidInput; read failures keep their kind.
		return "", nil, fmt.Errorf("validate replacement file: %w", err)
	}
	return comment, file, nil
}

func (uc *TransitionUseCase) persistFile(ctx context.Context, documentID string, file *domain.ValidatedFile) (*domain.FileRef, error) {
	if file == nil {
		return nil, nil
	}
	ref, err := uc.files.Persist(ctx, documentID, file)
	if err != nil {
		return nil, fmt.Errorf("persist replacement file: %w", err)
	}
	return &ref, nil
}

func (uc *TransitionUseCase) discardFile(ctx context.Context, ref *domain.FileRef) {
	if ref == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	if err := uc.files.Delete(cleanupCtx, ref.StorageKey); err != nil {
		slog.Warn("replacement_file_cleanup_failed", "storage_key", ref.StorageKey, "error", err)
	}
}

func (uc *TransitionUseCase) buildCommit(
	current *domain.Document,
	req domain.TransitionRequest,
	comment string,
	newFile *domain.FileRef,
) domain.TransitionCommit {
	now := uc.now().UTC()
	commit := domain.TransitionCommit{
		DocumentID:  current.ID,
		FromStatus:  current.Status,
		ToStatus:    req.ToStatus,
		ActorID:     req.ActorID,
		At:          now,
		IsPublic:    req.ToStatus == domain.StatusPublished,
		ApprovedAt:  current.ApprovedAt,
		ApprovedBy:  current.ApprovedBy,
		PublishedAt: current.PublishedAt,
	}
	switch req.ToStatus {
	case domain.StatusApproved:
		commit.ApprovedAt = &now
		commit.ApprovedBy = req.ActorID
	case domain.StatusPublished:
		commit.PublishedAt = &now
	}

	entry := domain.AuditEntry{
		DocumentID: current.ID,
		Action:     domain.AuditStatusChange,
		ActorID:    req.ActorID,
		FromStatus: current.Status,
		ToStatus:   req.ToStatus,
		Comment:    comment,
		CreatedAt:  now,
	}
	if newFile != nil {
		commit.NewFile = newFile
		commit.PreviousFile = current.File
		commit.NewVersion = domain.NextVersion(current.Version)
		entry.Action = domain.AuditFileReplace
		entry.OldFile = current.File
		entry.NewFile = newFile
	}
	commit.Audit = uc.audit.NewEntry(entry)
	return commit
}

func (uc *TransitionUseCase) notifyOwner(ctx context.Context, doc *domain.Document, commit domain.TransitionCommit) {
	if uc.notifier == nil || doc.OwnerID == "" || doc.OwnerID == commit.ActorID {
		return
	}
	message := fmt.Sprintf("%q moved from %s to %s", doc.Title, commit.FromStatus, commit.ToStatus)
	data := map[string]string{
		domain.NotificationDataFromStatus: string(commit.FromStatus),
		domain.NotificationDataToStatus:   string(commit.ToStatus),
	}
	if comment := commit.Audit.Comment; comment != "" {
		message += ": " + comment
		data[domain.NotificationDataComment] = comment
	}
	notification := domain.Notification{
		ID:         uuid.NewString(),
		UserID:     doc.OwnerID,
		Type:       domain.NotificationTypeFor(commit.ToStatus),
		DocumentID: doc.ID,
		Title:      doc.Title,
		Message:    message,
		ActorID:    commit.ActorID,
		Data:       data,
		CreatedAt:  commit.At,
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	uc.pending.Add(1)
	go func() {
		defer uc.pending.Done()
		defer cancel()
		if err := uc.notifier.Notify(notifyCtx, notification); err != nil {
			uc.observer.ObserveNotification("error")
			slog.Warn("notification_failed",
				"document_id", notification.DocumentID,
				"user_id", notification.UserID,
				"type", string(notification.Type),
				"error", err,
			)
			return
		}
		uc.observer.ObserveNotification("sent")
	}()
}

func (uc *TransitionUseCase) scheduleExpiry(ctx context.Context, doc *domain.Document, commit domain.TransitionCommit) {
	if uc.scheduler == nil || commit.ToStatus != domain.StatusPublished || doc.ExpiresAt == nil {
		return
	}
	if err := uc.scheduler.ScheduleExpiry(ctx, doc.ID, *doc.ExpiresAt); err != nil {
		slog.Warn("expiry_schedule_failed", "document_id", doc.ID, "expires_at", doc.ExpiresAt, "error", err)
	}
}
