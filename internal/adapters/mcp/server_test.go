package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type workflowFake struct {
	allowed []domain.TransitionRule
	err     error
	actor   string
}

func (f *workflowFake) Execute(context.Context, domain.TransitionRequest) (*domain.Document, error) {
	return nil, domain.ErrForbidden
}

func (f *workflowFake) AllowedTransitions(_ context.Context, actorID, _ string) ([]domain.TransitionRule, error) {
	f.actor = actorID
	return f.allowed, f.err
}

func (f *workflowFake) Rules() []domain.TransitionRule {
	return []domain.TransitionRule{{From: domain.StatusDraft, To: domain.StatusPendingReview}}
}

type documentsFake struct {
	ports.DocumentService
	docs       map[string]*domain.Document
	lastFilter domain.DocumentFilter
	lastPage   domain.Page
}

func (f *documentsFake) Get(_ context.Context, _ string, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id="+id))
	}
	return doc, nil
}

func (f *documentsFake) List(_ context.Context, _ string, filter domain.DocumentFilter, page domain.Page) ([]domain.Document, int, error) {
	f.lastFilter = filter
	f.lastPage = page
	out := make([]domain.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, *doc)
	}
	return out, len(out), nil
}

type auditFake struct {
	err        error
	lastFilter domain.AuditFilter
}

func (f *auditFake) Query(_ context.Context, _ string, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error) {
	f.lastFilter = filter
	if f.err != nil {
		return domain.AuditPage{}, f.err
	}
	return domain.AuditPage{Entries: []domain.AuditEntry{{ID: "a-1", Action: domain.AuditStatusChange}}, Total: 1, Limit: page.Limit}, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", result.Content[0])
		return ""
	}
}

func newTestTools() (*Tools, *workflowFake, *documentsFake, *auditFake) {
	wf := &workflowFake{allowed: []domain.TransitionRule{{From: domain.StatusDraft, To: domain.StatusPendingReview}}}
	docs := &documentsFake{docs: map[string]*domain.Document{
		"doc-1": {ID: "doc-1", Title: "Policy", Status: domain.StatusDraft},
	}}
	audit := &auditFake{}
	return NewTools(Services{Workflow: wf, Documents: docs, Audit: audit}, " u-assistant "), wf, docs, audit
}

func TestGetDocumentReturnsJSON(t *testing.T) {
	tools, _, _, _ := newTestTools()

	result, err := tools.GetDocument(context.Background(), callRequest(map[string]any{"document_id": "doc-1"}))
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(resultText(t, result)), &doc); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if doc.ID != "doc-1" || doc.Status != domain.StatusDraft {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestGetDocumentReportsToolErrors(t *testing.T) {
	tools, _, _, _ := newTestTools()

	result, err := tools.GetDocument(context.Background(), callRequest(map[string]any{"document_id": "missing"}))
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "not_found") {
		t.Fatalf("expected not_found tool error, got %+v", result)
	}

	result, err = tools.GetDocument(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error for missing document_id")
	}
}

func TestAllowedTransitionsUsesConfiguredActor(t *testing.T) {
	tools, wf, _, _ := newTestTools()

	result, err := tools.AllowedTransitions(context.Background(), callRequest(map[string]any{"document_id": "doc-1"}))
	if err != nil {
		t.Fatalf("AllowedTransitions() error = %v", err)
	}
	if wf.actor != "u-assistant" {
		t.Fatalf("expected trimmed actor, got %q", wf.actor)
	}
	if !strings.Contains(resultText(t, result), `"PENDING_REVIEW"`) {
		t.Fatalf("unexpected result %s", resultText(t, result))
	}

	wf.err = domain.WrapError(domain.ErrForbidden, "resolve access", errors.New("document is not readable"))
	result, _ = tools.AllowedTransitions(context.Background(), callRequest(map[string]any{"document_id": "doc-1"}))
	if !result.IsError || !strings.Contains(resultText(t, result), "forbidden") {
		t.Fatalf("expected forbidden tool error, got %s", resultText(t, result))
	}
}

func TestListDocumentsParsesFilters(t *testing.T) {
	tools, _, docs, _ := newTestTools()

	result, err := tools.ListDocuments(context.Background(), callRequest(map[string]any{
		"status": "draft",
		"owner":  "u-1",
		"limit":  float64(5),
	}))
	if err != nil || result.IsError {
		t.Fatalf("ListDocuments() err=%v result=%+v", err, result)
	}
	if docs.lastFilter.Status != domain.StatusDraft || docs.lastFilter.OwnerID != "u-1" || docs.lastPage.Limit != 5 {
		t.Fatalf("unexpected filter %+v page %+v", docs.lastFilter, docs.lastPage)
	}

	result, _ = tools.ListDocuments(context.Background(), callRequest(map[string]any{"status": "lost"}))
	if !result.IsError || !strings.Contains(resultText(t, result), "invalid_input") {
		t.Fatalf("expected invalid_input for unknown status")
	}
}

func TestQueryAuditPassesFilter(t *testing.T) {
	tools, _, _, audit := newTestTools()

	result, err := tools.QueryAudit(context.Background(), callRequest(map[string]any{
		"document_id": "doc-1",
		"action":      "status_change",
	}))
	if err != nil || result.IsError {
		t.Fatalf("QueryAudit() err=%v result=%+v", err, result)
	}
	if audit.lastFilter.DocumentID != "doc-1" || audit.lastFilter.Action != domain.AuditStatusChange {
		t.Fatalf("unexpected filter %+v", audit.lastFilter)
	}
	var page domain.AuditPage
	if err := json.Unmarshal([]byte(resultText(t, result)), &page); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if page.Total != 1 || page.Limit != domain.DefaultPageLimit {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	tools, _, _, _ := newTestTools()
	s := NewServer(tools, "test")

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"get_document", "list_documents", "allowed_transitions", "query_audit", "list_rules"} {
		if !strings.Contains(string(raw), `"`+name+`"`) {
			t.Fatalf("tool %s is not listed in %s", name, raw)
		}
	}
}
