package httpadapter

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type createDocumentBody struct {
	Title        string     `json:"title"`
	TypeID       string     `json:"type_id"`
	AccessGroups []string   `json:"access_groups"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

type updateDocumentBody struct {
	Title        *string    `json:"title"`
	TypeID       *string    `json:"type_id"`
	AccessGroups *[]string  `json:"access_groups"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

type transitionBody struct {
	ToStatus       string `json:"to_status"`
	ExpectedStatus string `json:"expected_status"`
	Comment        string `json:"comment"`
}

type documentListResponse struct {
	Documents []domain.Document `json:"documents"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := bindPage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := r.URL.Query()
	status, err := parseOptionalStatus(query.Get("status"), "status")
	if err != nil {
		writeError(w, err)
		return
	}
	filter := domain.DocumentFilter{
		Status:  status,
		OwnerID: strings.TrimSpace(query.Get("owner")),
		TypeID:  strings.TrimSpace(query.Get("type")),
	}

	docs, total, err := rt.services.Documents.List(r.Context(), actorFromContext(r.Context()), filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentListResponse{Documents: docs, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// createDocument accepts JSON metadata, or multipart with the same fields plus
// an optional "file" part.
func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	req := ports.CreateDocumentRequest{ActorID: actorFromContext(r.Context())}

	if isMultipart(r) {
		form, closeFile, err := rt.readMultipart(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		defer closeFile()
		req.Title = form.value("title")
		req.TypeID = form.value("type_id")
		req.AccessGroups = form.list("access_groups")
		if req.ExpiresAt, err = form.time("expires_at"); err != nil {
			writeError(w, err)
			return
		}
		req.File = form.file
	} else {
		var body createDocumentBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		req.Title = body.Title
		req.TypeID = body.TypeID
		req.AccessGroups = body.AccessGroups
		req.ExpiresAt = body.ExpiresAt
	}

	doc, err := rt.services.Documents.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.services.Documents.Get(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) updateDocument(w http.ResponseWriter, r *http.Request) {
	var body updateDocumentBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := rt.services.Documents.UpdateMetadata(r.Context(), ports.UpdateDocumentRequest{
		ActorID:      actorFromContext(r.Context()),
		DocumentID:   r.PathValue("id"),
		Title:        body.Title,
		TypeID:       body.TypeID,
		AccessGroups: body.AccessGroups,
		ExpiresAt:    body.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) downloadFile(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.services.Documents.Get(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if doc.File.Empty() || rt.services.Files == nil {
		writeError(w, domain.WrapError(domain.ErrDocumentNotFound, "download file", errors.New("document has no file")))
		return
	}
	rc, err := rt.services.Files.Open(r.Context(), doc.File.StorageKey)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", doc.File.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.File.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.File.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (rt *Router) allowedTransitions(w http.ResponseWriter, r *http.Request) {
	rules, err := rt.services.Workflow.AllowedTransitions(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.TransitionRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": rules})
}

// executeTransition accepts JSON, or multipart when a replacement file is
// attached to the transition.
func (rt *Router) executeTransition(w http.ResponseWriter, r *http.Request) {
	req := domain.TransitionRequest{
		DocumentID: r.PathValue("id"),
		ActorID:    actorFromContext(r.Context()),
	}
	var body transitionBody

	if isMultipart(r) {
		form, closeFile, err := rt.readMultipart(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		defer closeFile()
		body = transitionBody{
			ToStatus:       form.value("to_status"),
			ExpectedStatus: form.value("expected_status"),
			Comment:        form.value("comment"),
		}
		req.ReplacementFile = form.file
	} else if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	to, err := parseOptionalStatus(body.ToStatus, "to_status")
	if err == nil && to == "" {
		err = domain.WrapError(domain.ErrInvalidInput, "execute transition", domain.NewValidationError(domain.FieldError{
			Field:   "to_status",
			Message: "is required",
		}))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	expected, err := parseOptionalStatus(body.ExpectedStatus, "expected_status")
	if err != nil {
		writeError(w, err)
		return
	}
	req.ToStatus = to
	req.ExpectedStatus = expected
	req.Comment = body.Comment

	doc, err := rt.services.Workflow.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := rt.services.Documents.ListVersions(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []domain.DocumentVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (rt *Router) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := rt.services.Documents.ListComments(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (rt *Router) addComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	comment, err := rt.services.Documents.AddComment(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), body.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (rt *Router) importDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.services.ParseImport == nil || rt.services.Importer == nil {
		writeError(w, errors.New("import is not configured"))
		return
	}
	form, closeFile, err := rt.readMultipart(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeFile()
	if form.file == nil {
		writeError(w, missingFile())
		return
	}

	rows, err := rt.services.ParseImport(form.file.Body, form.file.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := rt.services.Importer.Import(r.Context(), actorFromContext(r.Context()), rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
