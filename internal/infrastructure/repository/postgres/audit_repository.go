package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// AuditRepository is the append-only audit log. It never updates or
// deletes rows.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	return insertAudit(ctx, r.db, entry)
}

func (r *AuditRepository) Query(ctx context.Context, filter domain.AuditFilter, page domain.Page) (domain.AuditPage, error) {
	page = page.Normalize()
	where, args := auditWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&total); err != nil {
		return domain.AuditPage{}, fmt.Errorf("count audit entries: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := `
SELECT id, document_id, action, actor_id, from_status, to_status, comment,
	old_file, new_file, before_state, after_state, created_at
FROM audit_entries` + where + fmt.Sprintf("\nORDER BY created_at DESC, id\nLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.AuditPage{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return domain.AuditPage{}, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.AuditPage{}, fmt.Errorf("iterate audit entries: %w", err)
	}
	return domain.AuditPage{Entries: entries, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// insertAudit is shared by Append and the transition transaction. A replayed
// entry with a known id is ignored.
func insertAudit(ctx context.Context, db execer, entry domain.AuditEntry) error {
	oldFile, err := encodeFileRef(entry.OldFile)
	if err != nil {
		return err
	}
	newFile, err := encodeFileRef(entry.NewFile)
	if err != nil {
		return err
	}
	before, err := encodeState(entry.Before)
	if err != nil {
		return err
	}
	after, err := encodeState(entry.After)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO audit_entries (
	id, document_id, action, actor_id, from_status, to_status, comment,
	old_file, new_file, before_state, after_state, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO NOTHING
`,
		entry.ID, entry.DocumentID, string(entry.Action), entry.ActorID,
		string(entry.FromStatus), string(entry.ToStatus), entry.Comment,
		oldFile, newFile, before, after, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func scanAudit(row rowScanner) (domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var action, fromStatus, toStatus string
	var oldRaw, newRaw, beforeRaw, afterRaw []byte
	if err := row.Scan(
		&entry.ID, &entry.DocumentID, &action, &entry.ActorID, &fromStatus, &toStatus, &entry.Comment,
		&oldRaw, &newRaw, &beforeRaw, &afterRaw, &entry.CreatedAt,
	); err != nil {
		return entry, fmt.Errorf("scan audit entry: %w", err)
	}
	entry.Action = domain.AuditAction(action)
	entry.FromStatus = domain.DocumentStatus(fromStatus)
	entry.ToStatus = domain.DocumentStatus(toStatus)

	var err error
	if entry.OldFile, err = decodeFileRef(oldRaw); err != nil {
		return entry, err
	}
	if entry.NewFile, err = decodeFileRef(newRaw); err != nil {
		return entry, err
	}
	if entry.Before, err = decodeState(beforeRaw); err != nil {
		return entry, err
	}
	if entry.After, err = decodeState(afterRaw); err != nil {
		return entry, err
	}
	return entry, nil
}

func auditWhere(filter domain.AuditFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if filter.DocumentID != "" {
		add("document_id = $%d", filter.DocumentID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}

func encodeState(state map[string]any) ([]byte, error) {
	if len(state) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal audit state: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal audit state: %w", err)
	}
	return state, nil
}
