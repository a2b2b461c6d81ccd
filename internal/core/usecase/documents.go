package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const maxTitleLength = 255

type DocumentUseCase struct {
	repo       ports.DocumentRepository
	authorizer *TransitionAuthorizer
	files      ports.FileStore
	audit      *AuditRecorder
	scheduler  ports.ExpiryScheduler

	maxCommentLength int
	now              func() time.Time
}

func NewDocumentUseCase(
	repo ports.DocumentRepository,
	authorizer *TransitionAuthorizer,
	files ports.FileStore,
	audit *AuditRecorder,
	scheduler ports.ExpiryScheduler,
	maxCommentLength int,
) *DocumentUseCase {
	if maxCommentLength <= 0 {
		maxCommentLength = DefaultMaxCommentLength
	}
	return &DocumentUseCase{
		repo:             repo,
		authorizer:       authorizer,
		files:            files,
		audit:            audit,
		scheduler:        scheduler,
		maxCommentLength: maxCommentLength,
		now:              time.Now,
	}
}

func (uc *DocumentUseCase) Create(ctx context.Context, req ports.CreateDocumentRequest) (*domain.Document, error) {
	if err := uc.authorizer.Require(ctx, req.ActorID, domain.CapDocumentCreate); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	verr := domain.NewValidationError()
	validateTitle(verr, title)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(uc.now()) {
		verr.Add("expires_at", "must be in the future")
	}
	if err := verr.OrNil(); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create document", err)
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		ID:           uuid.NewString(),
		Title:        title,
		Status:       domain.StatusDraft,
		OwnerID:      req.ActorID,
		TypeID:       strings.TrimSpace(req.TypeID),
		AccessGroups: normalizeGroups(req.AccessGroups),
		Version:      domain.InitialVersion,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.File != nil {
		if uc.files == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "create document", domain.NewValidationError(domain.FieldError{
				Field:   "file",
				Message: "file uploads are not supported",
			}))
		}
		file, err := uc.files.Validate(ctx, *req.File)
		if err != nil {
			return nil, err
		}
		ref, err := uc.files.Persist(ctx, doc.ID, file)
		if err != nil {
			return nil, fmt.Errorf("persist document file: %w", err)
		}
		doc.File = &ref
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		if doc.File != nil {
			if delErr := uc.files.Delete(context.WithoutCancel(ctx), doc.File.StorageKey); delErr != nil {
				slog.Warn("document_file_cleanup_failed", "storage_key", doc.File.StorageKey, "error", delErr)
			}
		}
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		DocumentID: doc.ID,
		Action:     domain.AuditDocumentCreated,
		ActorID:    req.ActorID,
		ToStatus:   domain.StatusDraft,
		NewFile:    doc.File,
		After:      metadataSnapshot(doc),
	})
	return uc.repo.GetByID(ctx, doc.ID)
}

func (uc *DocumentUseCase) Get(ctx context.Context, actorID, documentID string) (*domain.Document, error) {
	return uc.readable(ctx, actorID, documentID)
}

// List returns documents matching filter that the actor may read. Total is
// the unfiltered match count.
func (uc *DocumentUseCase) List(
	ctx context.Context,
	actorID string,
	filter domain.DocumentFilter,
	page domain.Page,
) ([]domain.Document, int, error) {
	access, err := uc.authorizer.Access(ctx, actorID)
	if err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "list documents", domain.NewValidationError(domain.FieldError{
			Field:   "status",
			Message: "unknown status",
		}))
	}

	docs, total, err := uc.repo.List(ctx, filter, page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	out := make([]domain.Document, 0, len(docs))
	for i := range docs {
		if canRead(access, &docs[i]) {
			out = append(out, docs[i])
		}
	}
	return out, total, nil
}

func (uc *DocumentUseCase) UpdateMetadata(ctx context.Context, req ports.UpdateDocumentRequest) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, strings.TrimSpace(req.DocumentID))
	if err != nil {
		return nil, err
	}
	access, err := uc.authorizer.Access(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !access.IsSuper() && doc.OwnerID != req.ActorID && !access.HasCapability(domain.CapDocumentEdit) {
		return nil, domain.WrapError(domain.ErrForbidden, "update document", fmt.Errorf("actor %q may not edit %s", req.ActorID, doc.ID))
	}
	if doc.Status == domain.StatusArchived || doc.Status.Terminal() {
		return nil, domain.WrapError(domain.ErrConflict, "update document", fmt.Errorf("document %s is %s", doc.ID, doc.Status))
	}

	before := metadataSnapshot(doc)
	verr := domain.NewValidationError()
	if req.Title != nil {
		doc.Title = strings.TrimSpace(*req.Title)
		validateTitle(verr, doc.Title)
	}
	if req.TypeID != nil {
		doc.TypeID = strings.TrimSpace(*req.TypeID)
	}
	if req.AccessGroups != nil {
		doc.AccessGroups = normalizeGroups(*req.AccessGroups)
	}
	expiryChanged := false
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(uc.now()) {
			verr.Add("expires_at", "must be in the future")
		}
		expiresAt := req.ExpiresAt.UTC()
		doc.ExpiresAt = &expiresAt
		expiryChanged = true
	}
	if err := verr.OrNil(); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", err)
	}
	doc.UpdatedAt = uc.now().UTC()

	if err := uc.repo.UpdateMetadata(ctx, doc); err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update document metadata: %w", err)
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		DocumentID: doc.ID,
		Action:     domain.AuditDocumentUpdated,
		ActorID:    req.ActorID,
		Before:     before,
		After:      metadataSnapshot(doc),
	})

	if expiryChanged && doc.Status == domain.StatusPublished && uc.scheduler != nil {
		if err := uc.scheduler.ScheduleExpiry(ctx, doc.ID, *doc.ExpiresAt); err != nil {
			slog.Warn("expiry_schedule_failed", "document_id", doc.ID, "error", err)
		}
	}
	return uc.repo.GetByID(ctx, doc.ID)
}

func (uc *DocumentUseCase) ListVersions(ctx context.Context, actorID, documentID string) ([]domain.DocumentVersion, error) {
	doc, err := uc.readable(ctx, actorID, documentID)
	if err != nil {
		return nil, err
	}
	versions, err := uc.repo.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (uc *DocumentUseCase) AddComment(ctx context.Context, actorID, documentID, body string) (*domain.Comment, error) {
	doc, err := uc.readable(ctx, actorID, documentID)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	verr := domain.NewValidationError()
	switch {
	case body == "":
		verr.Add("body", "is required")
	case utf8.RuneCountInString(body) > uc.maxCommentLength:
		verr.Add("body", fmt.Sprintf("must be at most %d characters", uc.maxCommentLength))
	}
	if err := verr.OrNil(); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add comment", err)
	}

	comment := domain.Comment{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		AuthorID:   actorID,
		Body:       body,
		CreatedAt:  uc.now().UTC(),
	}
	if err := uc.repo.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	uc.audit.Record(ctx, domain.AuditEntry{
		DocumentID: doc.ID,
		Action:     domain.AuditComment,
		ActorID:    actorID,
		Comment:    body,
	})
	return &comment, nil
}

func (uc *DocumentUseCase) ListComments(ctx context.Context, actorID, documentID string) ([]domain.Comment, error) {
	doc, err := uc.readable(ctx, actorID, documentID)
	if err != nil {
		return nil, err
	}
	comments, err := uc.repo.ListComments(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (uc *DocumentUseCase) readable(ctx context.Context, actorID, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return nil, err
	}
	access, err := uc.authorizer.Access(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !canRead(access, doc) {
		return nil, domain.WrapError(domain.ErrForbidden, "read document", fmt.Errorf("actor %q may not read %s", actorID, doc.ID))
	}
	return doc, nil
}

// canRead grants access to the owner, the super capability, public documents
// and DOCUMENT_READ holders sharing one of the document's access groups
// (or any holder when the document has no groups).
func canRead(access domain.EffectiveAccess, doc *domain.Document) bool {
	if access.IsSuper() || doc.IsPublic || (access.ActorID != "" && doc.OwnerID == access.ActorID) {
		return true
	}
	if !access.HasCapability(domain.CapDocumentRead) {
		return false
	}
	if len(doc.AccessGroups) == 0 {
		return true
	}
	for _, group := range doc.AccessGroups {
		if access.HasRole(domain.RoleName(group)) {
			return true
		}
	}
	return false
}

func validateTitle(verr *domain.ValidationError, title string) {
	switch {
	case title == "":
		verr.Add("title", "is required")
	case utf8.RuneCountInString(title) > maxTitleLength:
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
}

func normalizeGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func metadataSnapshot(doc *domain.Document) map[string]any {
	snapshot := map[string]any{
		"title":         doc.Title,
		"type_id":       doc.TypeID,
		"access_groups": append([]string(nil), doc.AccessGroups...),
		"version":       doc.Version,
	}
	if doc.ExpiresAt != nil {
		snapshot["expires_at"] = doc.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return snapshot
}
