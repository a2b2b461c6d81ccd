package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
	"golang.org/x/time/rate"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

const (
	defaultMaxUploadBytes = 25 << 20
	multipartMemory       = 8 << 20
	multipartOverhead     = 1 << 20
)

// ImportParser turns an uploaded CSV/XLSX file into rows.
type ImportParser func(r io.Reader, filename string) ([]domain.ImportRow, error)

type Services struct {
	Workflow      ports.WorkflowService
	Documents     ports.DocumentService
	Audit         ports.AuditService
	Roles         ports.RoleService
	Importer      ports.DocumentImporter
	Notifications ports.NotificationReader
	Files         ports.FileStore
	ParseImport   ImportParser
}

type RouterOptions struct {
	Service        string
	Authenticator  *Authenticator
	Metrics        *metrics.HTTPServerMetrics
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueTimeout   time.Duration
	MaxUploadBytes int64
}

type Router struct {
	services Services
	options  RouterOptions
	validate func(http.Handler) http.Handler
}

func NewRouter(services Services, options RouterOptions) (*Router, error) {
	if options.Service == "" {
		options.Service = "api"
	}
	if options.Authenticator == nil {
		options.Authenticator = NewAuthenticator("", "")
	}
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = defaultMaxUploadBytes
	}
	specRouter, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	return &Router{
		services: services,
		options:  options,
		validate: func(next http.Handler) http.Handler {
			return openAPIValidationMiddleware(specRouter, next)
		},
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPIDocument)
	if rt.options.Metrics != nil {
		mux.Handle("GET /metrics", rt.options.Metrics.Handler())
	}

	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/documents", rt.createDocument)
	mux.HandleFunc("POST /v1/documents/import", rt.importDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("PATCH /v1/documents/{id}", rt.updateDocument)
	mux.HandleFunc("GET /v1/documents/{id}/file", rt.downloadFile)
	mux.HandleFunc("GET /v1/documents/{id}/transitions", rt.allowedTransitions)
	mux.HandleFunc("POST /v1/documents/{id}/transitions", rt.executeTransition)
	mux.HandleFunc("GET /v1/documents/{id}/versions", rt.listVersions)
	mux.HandleFunc("GET /v1/documents/{id}/comments", rt.listComments)
	mux.HandleFunc("POST /v1/documents/{id}/comments", rt.addComment)

	mux.HandleFunc("GET /v1/audit", rt.queryAudit)
	mux.HandleFunc("GET /v1/rules", rt.listRules)
	mux.HandleFunc("GET /v1/users/{id}/roles", rt.effectiveAccess)
	mux.HandleFunc("POST /v1/users/{id}/roles", rt.assignRole)
	mux.HandleFunc("DELETE /v1/users/{id}/roles/{role}", rt.revokeRole)
	mux.HandleFunc("PUT /v1/roles/{role}/capabilities", rt.setRoleCapabilities)
	mux.HandleFunc("GET /v1/notifications", rt.listNotifications)

	var onReject rejectFunc
	if rt.options.Metrics != nil {
		onReject = func(reason string, r *http.Request) { rt.options.Metrics.RecordRejected(reason, r.URL.Path) }
	}

	var handler http.Handler = rt.validate(mux)
	handler = authMiddleware(rt.options.Authenticator, handler)
	handler = withBackpressure(handler, rt.options.MaxInFlight, rt.options.QueueTimeout, onReject)
	if rt.options.RateLimitRPS > 0 {
		burst := rt.options.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		handler = withRateLimit(handler, rate.NewLimiter(rate.Limit(rt.options.RateLimitRPS), burst), onReject)
	}
	if rt.options.Metrics != nil {
		handler = rt.options.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", domain.NewValidationError(domain.FieldError{
			Field:   "body",
			Message: "invalid json: " + err.Error(),
		}))
	}
	return nil
}

// bindPage reads limit/offset with the same binder generated servers use.
func bindPage(r *http.Request) (domain.Page, error) {
	var page domain.Page
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &page.Limit); err != nil {
		return page, queryParamError("limit", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &page.Offset); err != nil {
		return page, queryParamError("offset", err)
	}
	return page.Normalize(), nil
}

func queryParamError(name string, err error) error {
	return domain.WrapError(domain.ErrInvalidInput, "bind query", domain.NewValidationError(domain.FieldError{
		Field:   name,
		Message: err.Error(),
	}))
}

func parseOptionalStatus(raw, field string) (domain.DocumentStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	status, err := domain.ParseDocumentStatus(raw)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse "+field, domain.NewValidationError(domain.FieldError{
			Field:   field,
			Message: fmt.Sprintf("unknown status %q", raw),
		}))
	}
	return status, nil
}
