package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type capabilityGate interface {
	Require(ctx context.Context, actorID string, capability domain.Capability) error
}

// AuditRecorder appends history entries. Write failures never propagate to
// the caller; they are logged and counted.
type AuditRecorder struct {
	log      ports.AuditLog
	gate     capabilityGate
	observer ports.WorkflowObserver
	now      func() time.Time
}

func NewAuditRecorder(log ports.AuditLog, gate capabilityGate, observer ports.WorkflowObserver) *AuditRecorder {
	if observer == nil {
		observer = noopObserver{}
	}
	return &AuditRecorder{
		log:      log,
		gate:     gate,
		observer: observer,
		now:      time.Now,
	}
}

// NewEntry fills in the identifier and timestamp of an entry.
func (r *AuditRecorder) NewEntry(entry domain.AuditEntry) domain.AuditEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	return entry
}

func (r *AuditRecorder) Record(ctx context.Context, entry domain.AuditEntry) {
	entry = r.NewEntry(entry)
	if err := r.log.Append(ctx, entry); err != nil {
		r.fail(entry, err)
	}
}

// Retry re-appends an entry whose first write failed inside a committed
// transaction.
func (r *AuditRecorder) Retry(ctx context.Context, entry domain.AuditEntry, cause error) {
	slog.Warn("audit_write_deferred",
		"audit_id", entry.ID,
		"document_id", entry.DocumentID,
		"action", string(entry.Action),
		"error", cause,
	)
	r.Record(ctx, entry)
}

func (r *AuditRecorder) Query(
	ctx context.Context,
	actorID string,
	filter domain.AuditFilter,
	page domain.Page,
) (domain.AuditPage, error) {
	if err := r.gate.Require(ctx, actorID, domain.CapAuditRead); err != nil {
		return domain.AuditPage{}, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.AuditPage{}, domain.WrapError(domain.ErrInvalidInput, "query audit", domain.NewValidationError(domain.FieldError{
			Field:   "to",
			Message: "must not be before from",
		}))
	}
	page = page.Normalize()

	result, err := r.log.Query(ctx, filter, page)
	if err != nil {
		return domain.AuditPage{}, fmt.Errorf("query audit log: %w", err)
	}
	if result.Entries == nil {
		result.Entries = []domain.AuditEntry{}
	}
	result.Limit = page.Limit
	result.Offset = page.Offset
	return result, nil
}

func (r *AuditRecorder) fail(entry domain.AuditEntry, err error) {
	r.observer.ObserveAuditFailure(entry.Action)
	slog.Error("audit_write_failed",
		"audit_id", entry.ID,
		"document_id", entry.DocumentID,
		"action", string(entry.Action),
		"actor_id", entry.ActorID,
		"error", domain.WrapError(domain.ErrAuditWrite, "append audit entry", err),
	)
}
