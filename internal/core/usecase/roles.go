package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// RoleUseCase mutates role data and keeps the capability cache coherent,
// locally and, through the broadcaster, in every other process.
type RoleUseCase struct {
	store       ports.RoleAssignmentStore
	cache       AccessCache
	authorizer  *TransitionAuthorizer
	audit       *AuditRecorder
	broadcaster ports.AccessChangeBroadcaster
	now         func() time.Time
}

func NewRoleUseCase(
	store ports.RoleAssignmentStore,
	cache AccessCache,
	authorizer *TransitionAuthorizer,
	audit *AuditRecorder,
) *RoleUseCase {
	return &RoleUseCase{
		store:      store,
		cache:      cache,
		authorizer: authorizer,
		audit:      audit,
		now:        time.Now,
	}
}

// SetBroadcaster publishes every role change to the other processes.
func (uc *RoleUseCase) SetBroadcaster(b ports.AccessChangeBroadcaster) {
	uc.broadcaster = b
}

func (uc *RoleUseCase) Assign(ctx context.Context, actorID, userID string, role domain.RoleName) error {
	userID, role, err := uc.prepare(ctx, actorID, userID, role)
	if err != nil {
		return err
	}
	if err := uc.store.AssignRole(ctx, domain.RoleAssignment{
		ActorID:   userID,
		Role:      role,
		Active:    true,
		GrantedBy: actorID,
		GrantedAt: uc.now().UTC(),
	}); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	uc.accessChanged(ctx, userID)

	uc.audit.Record(ctx, domain.AuditEntry{
		Action:  domain.AuditRoleAssigned,
		ActorID: actorID,
		After:   map[string]any{"user_id": userID, "role": string(role)},
	})
	return nil
}

func (uc *RoleUseCase) Revoke(ctx context.Context, actorID, userID string, role domain.RoleName) error {
	userID, role, err := uc.prepare(ctx, actorID, userID, role)
	if err != nil {
		return err
	}
	if err := uc.store.RevokeRole(ctx, userID, role, uc.now().UTC()); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	uc.accessChanged(ctx, userID)

	uc.audit.Record(ctx, domain.AuditEntry{
		Action:  domain.AuditRoleRevoked,
		ActorID: actorID,
		Before:  map[string]any{"user_id": userID, "role": string(role)},
	})
	return nil
}

// SetCapabilities replaces a role's capability set. Every cached actor may
// hold the role, so the whole cache is dropped.
func (uc *RoleUseCase) SetCapabilities(ctx context.Context, actorID string, role domain.RoleName, caps []domain.Capability) error {
	if err := uc.authorizer.Require(ctx, actorID, domain.CapRoleManage); err != nil {
		return err
	}
	role = domain.NormalizeRole(string(role))
	verr := domain.NewValidationError()
	if role == "" {
		verr.Add("role", "is required")
	}
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		if !c.Valid() {
			verr.Add("capabilities", fmt.Sprintf("unknown capability %q", c))
			continue
		}
		names = append(names, string(c))
	}
	if err := verr.OrNil(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "set role capabilities", err)
	}

	if err := uc.store.SetRoleCapabilities(ctx, role, caps); err != nil {
		return fmt.Errorf("set role capabilities: %w", err)
	}
	uc.accessChanged(ctx, "")

	uc.audit.Record(ctx, domain.AuditEntry{
		Action:  domain.AuditRoleCapabilities,
		ActorID: actorID,
		After:   map[string]any{"role": string(role), "capabilities": names},
	})
	return nil
}

// Effective returns another user's access; users may always read their own.
func (uc *RoleUseCase) Effective(ctx context.Context, actorID, userID string) (domain.EffectiveAccess, error) {
	userID = strings.TrimSpace(userID)
	if userID != strings.TrimSpace(actorID) {
		if err := uc.authorizer.Require(ctx, actorID, domain.CapRoleManage); err != nil {
			return domain.EffectiveAccess{}, err
		}
	}
	return uc.cache.Resolve(ctx, userID)
}

// accessChanged invalidates the local cache and broadcasts the change. An
// empty userID covers every actor. The mutation is already committed, so a
// failed broadcast is logged rather than returned; listeners that missed it
// fall back to a short cache TTL while their feed is down.
func (uc *RoleUseCase) accessChanged(ctx context.Context, userID string) {
	if userID == "" {
		uc.cache.InvalidateAll()
	} else {
		uc.cache.Invalidate(userID)
	}
	if uc.broadcaster == nil {
		return
	}
	if err := uc.broadcaster.BroadcastAccessChange(ctx, userID); err != nil {
		slog.Error("access_change_broadcast_failed", "user_id", userID, "error", err)
	}
}

func (uc *RoleUseCase) prepare(ctx context.Context, actorID, userID string, role domain.RoleName) (string, domain.RoleName, error) {
	if err := uc.authorizer.Require(ctx, actorID, domain.CapRoleManage); err != nil {
		return "", "", err
	}
	userID = strings.TrimSpace(userID)
	role = domain.NormalizeRole(string(role))
	verr := domain.NewValidationError()
	if userID == "" {
		verr.Add("user_id", "is required")
	}
	if role == "" {
		verr.Add("role", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "change role assignment", err)
	}
	return userID, role, nil
}
