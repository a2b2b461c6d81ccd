package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type accessResponse struct {
	UserID       string              `json:"user_id"`
	Roles        []domain.RoleName   `json:"roles"`
	Capabilities []domain.Capability `json:"capabilities"`
}

func (rt *Router) queryAudit(w http.ResponseWriter, r *http.Request) {
	page, err := bindPage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := r.URL.Query()
	filter := domain.AuditFilter{
		DocumentID: strings.TrimSpace(query.Get("document_id")),
		ActorID:    strings.TrimSpace(query.Get("actor_id")),
		Action:     domain.AuditAction(strings.TrimSpace(query.Get("action"))),
	}
	var from, to *time.Time
	if err := runtime.BindQueryParameter("form", true, false, "from", query, &from); err != nil {
		writeError(w, queryParamError("from", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", query, &to); err != nil {
		writeError(w, queryParamError("to", err))
		return
	}
	filter.From, filter.To = from, to

	result, err := rt.services.Audit.Query(r.Context(), actorFromContext(r.Context()), filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Entries == nil {
		result.Entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": rt.services.Workflow.Rules()})
}

func (rt *Router) effectiveAccess(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	access, err := rt.services.Roles.Effective(r.Context(), actorFromContext(r.Context()), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		UserID:       userID,
		Roles:        access.RoleList(),
		Capabilities: access.CapabilityList(),
	})
}

func (rt *Router) assignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	err := rt.services.Roles.Assign(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), domain.NormalizeRole(body.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) revokeRole(w http.ResponseWriter, r *http.Request) {
	err := rt.services.Roles.Revoke(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), domain.NormalizeRole(r.PathValue("role")))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) setRoleCapabilities(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	caps := make([]domain.Capability, 0, len(body.Capabilities))
	for _, raw := range body.Capabilities {
		caps = append(caps, domain.Capability(strings.ToUpper(strings.TrimSpace(raw))))
	}
	if err := rt.services.Roles.SetCapabilities(r.Context(), actorFromContext(r.Context()), domain.NormalizeRole(r.PathValue("role")), caps); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := bindPage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := rt.services.Notifications.ListForUser(r.Context(), actorFromContext(r.Context()), page)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}
