package usecase

import (
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type noopObserver struct{}

func (noopObserver) ObserveTransition(domain.DocumentStatus, domain.DocumentStatus, string, time.Duration) {
}
func (noopObserver) ObserveAuditFailure(domain.AuditAction) {}
func (noopObserver) ObserveCapabilityLookup(bool)           {}
func (noopObserver) ObserveNotification(string)             {}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsKind(err, domain.ErrForbidden):
		return "forbidden"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
