// Package mcpadapter exposes read-only workflow tools over the Model Context
// Protocol so assistants can inspect documents without mutating them.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const serverName = "docflow"

type Services struct {
	Workflow  ports.WorkflowService
	Documents ports.DocumentService
	Audit     ports.AuditService
}

// Tools answers MCP tool calls as a fixed actor; every read goes through the
// same authorization as the HTTP API.
type Tools struct {
	services Services
	actorID  string
}

func NewTools(services Services, actorID string) *Tools {
	return &Tools{services: services, actorID: strings.TrimSpace(actorID)}
}

func NewServer(tools *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Fetch a document's metadata and current status."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
	), tools.GetDocument)

	s.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List readable documents, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("status", mcp.Description("Optional status filter"), mcp.Enum(statusNames()...)),
		mcp.WithString("owner", mcp.Description("Optional owner id filter")),
		mcp.WithNumber("limit", mcp.Description("Page size, at most 200")),
	), tools.ListDocuments)

	s.AddTool(mcp.NewTool("allowed_transitions",
		mcp.WithDescription("List the status transitions the configured actor may perform on a document."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
	), tools.AllowedTransitions)

	s.AddTool(mcp.NewTool("query_audit",
		mcp.WithDescription("Read the audit trail, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("document_id", mcp.Description("Optional document id")),
		mcp.WithString("action", mcp.Description("Optional action, e.g. status_change")),
		mcp.WithNumber("limit", mcp.Description("Page size, at most 200")),
	), tools.QueryAudit)

	s.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("Show the transition rule table."),
		mcp.WithReadOnlyHintAnnotation(true),
	), tools.ListRules)

	return s
}

func (t *Tools) GetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := t.services.Documents.Get(ctx, t.actorID, id)
	if err != nil {
		return toolError("get document", err), nil
	}
	return jsonResult(doc)
}

func (t *Tools) ListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := domain.DocumentFilter{OwnerID: strings.TrimSpace(request.GetString("owner", ""))}
	if raw := request.GetString("status", ""); raw != "" {
		status, err := domain.ParseDocumentStatus(raw)
		if err != nil {
			return toolError("list documents", err), nil
		}
		filter.Status = status
	}
	page := domain.Page{Limit: request.GetInt("limit", domain.DefaultPageLimit)}

	docs, total, err := t.services.Documents.List(ctx, t.actorID, filter, page)
	if err != nil {
		return toolError("list documents", err), nil
	}
	return jsonResult(map[string]any{"documents": docs, "total": total})
}

func (t *Tools) AllowedTransitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rules, err := t.services.Workflow.AllowedTransitions(ctx, t.actorID, id)
	if err != nil {
		return toolError("allowed transitions", err), nil
	}
	if rules == nil {
		rules = []domain.TransitionRule{}
	}
	return jsonResult(map[string]any{"transitions": rules})
}

func (t *Tools) QueryAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := domain.AuditFilter{
		DocumentID: strings.TrimSpace(request.GetString("document_id", "")),
		Action:     domain.AuditAction(strings.TrimSpace(request.GetString("action", ""))),
	}
	page := domain.Page{Limit: request.GetInt("limit", domain.DefaultPageLimit)}

	result, err := t.services.Audit.Query(ctx, t.actorID, filter, page)
	if err != nil {
		return toolError("query audit", err), nil
	}
	return jsonResult(result)
}

func (t *Tools) ListRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"rules": t.services.Workflow.Rules()})
}

func statusNames() []string {
	statuses := domain.AllStatuses()
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolError reports domain failures as tool results, not protocol errors.
func toolError(op string, err error) *mcp.CallToolResult {
	kind := "error"
	switch {
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		kind = "not_found"
	case domain.IsKind(err, domain.ErrForbidden), domain.IsKind(err, domain.ErrUnauthorized):
		kind = "forbidden"
	case domain.IsKind(err, domain.ErrInvalidInput):
		kind = "invalid_input"
	case domain.IsKind(err, domain.ErrTemporary):
		kind = "temporary"
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s: %v", op, kind, err))
}
