package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentSelect = `
SELECT d.id, d.title, d.status, d.owner_id, d.type_id, d.access_groups,
	d.file_key, d.file_name, d.file_size, d.file_mime, d.version, d.is_public,
	d.approved_at, d.approved_by, d.published_at, d.expires_at, d.created_at, d.updated_at,
	t.name, c.name, c.email, a.name, a.email
FROM documents d
LEFT JOIN document_types t ON t.id = d.type_id
LEFT JOIN users c ON c.id = d.owner_id
LEFT JOIN users a ON a.id = d.approved_by
`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	groupsJSON, err := json.Marshal(nonNilGroups(doc.AccessGroups))
	if err != nil {
		return fmt.Errorf("marshal access groups: %w", err)
	}
	file := fileColumns(doc.File)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (
	id, title, status, owner_id, type_id, access_groups, file_key, file_name, file_size, file_mime,
	version, is_public, approved_at, approved_by, published_at, expires_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
		doc.ID, doc.Title, string(doc.Status), doc.OwnerID, doc.TypeID, groupsJSON,
		file.key, file.name, file.size, file.mime,
		doc.Version, doc.IsPublic, doc.ApprovedAt, doc.ApprovedBy, doc.PublishedAt, doc.ExpiresAt,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if err := insertVersion(ctx, tx, domain.DocumentVersion{
		DocumentID: doc.ID,
		Version:    doc.Version,
		File:       doc.File,
		CreatedBy:  doc.OwnerID,
		CreatedAt:  doc.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, documentSelect+`WHERE d.id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, filter domain.DocumentFilter, page domain.Page) ([]domain.Document, int, error) {
	page = page.Normalize()
	where, args := documentWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents d`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := documentSelect + where + fmt.Sprintf("\nORDER BY d.created_at DESC, d.id\nLIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return out, total, nil
}

func (r *DocumentRepository) UpdateMetadata(ctx context.Context, doc *domain.Document) error {
	groupsJSON, err := json.Marshal(nonNilGroups(doc.AccessGroups))
	if err != nil {
		return fmt.Errorf("marshal access groups: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET title = $2, type_id = $3, access_groups = $4, expires_at = $5, updated_at = $6
WHERE id = $1
`, doc.ID, doc.Title, doc.TypeID, groupsJSON, doc.ExpiresAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id=%s", doc.ID))
	}
	return nil
}

// CommitTransition locks the document row, checks the expected status and
// writes the status change, the version record and the audit entry in one
// transaction. The returned document is re-read after the update so its
// relations match the committed row. The audit insert runs under a savepoint so its failure rolls
// back only the audit row.
func (r *DocumentRepository) CommitTransition(ctx context.Context, commit domain.TransitionCommit) (*domain.TransitionReceipt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc, err := scanDocument(tx.QueryRowContext(ctx, documentSelect+`WHERE d.id = $1 FOR UPDATE OF d`, commit.DocumentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "commit transition", fmt.Errorf("id=%s", commit.DocumentID))
		}
		return nil, fmt.Errorf("lock document: %w", err)
	}
	if doc.Status != commit.FromStatus {
		return nil, domain.WrapError(domain.ErrConflict, "commit transition", fmt.Errorf("status is %s, expected %s", doc.Status, commit.FromStatus))
	}
	doc.Apply(commit)
	file := fileColumns(doc.File)

	result, err := tx.ExecContext(ctx, `
UPDATE documents
SET status = $3, is_public = $4, approved_at = $5, approved_by = $6, published_at = $7,
	file_key = $8, file_name = $9, file_size = $10, file_mime = $11, version = $12, updated_at = $13
WHERE id = $1 AND status = $2
`,
		doc.ID, string(commit.FromStatus), string(doc.Status), doc.IsPublic, doc.ApprovedAt, doc.ApprovedBy, doc.PublishedAt,
		file.key, file.name, file.size, file.mime, doc.Version, doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update document status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update document rows affected: %w", err)
	}
	if rows == 0 {
		return nil, domain.WrapError(domain.ErrConflict, "commit transition", fmt.Errorf("status changed concurrently"))
	}

	if commit.NewFile != nil {
		if err := insertVersion(ctx, tx, domain.DocumentVersion{
			DocumentID:   doc.ID,
			Version:      commit.NewVersion,
			File:         commit.NewFile,
			PreviousFile: commit.PreviousFile,
			CreatedBy:    commit.ActorID,
			CreatedAt:    commit.At,
		}); err != nil {
			return nil, err
		}
	}

	// Reload so the approver join reflects the row just written.
	updated, err := scanDocument(tx.QueryRowContext(ctx, documentSelect+`WHERE d.id = $1`, doc.ID))
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}

	receipt := &domain.TransitionReceipt{Document: updated}
	if _, err := tx.ExecContext(ctx, `SAVEPOINT audit_entry`); err != nil {
		return nil, fmt.Errorf("audit savepoint: %w", err)
	}
	if err := insertAudit(ctx, tx, commit.Audit); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_entry`); rbErr != nil {
			return nil, fmt.Errorf("rollback audit savepoint: %w", rbErr)
		}
		receipt.AuditErr = err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return receipt, nil
}

func (r *DocumentRepository) ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, version, file, previous_file, created_by, created_at
FROM document_versions
WHERE document_id = $1
ORDER BY created_at, id
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentVersion, 0)
	for rows.Next() {
		var v domain.DocumentVersion
		var fileRaw, prevRaw []byte
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Version, &fileRaw, &prevRaw, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if v.File, err = decodeFileRef(fileRaw); err != nil {
			return nil, err
		}
		if v.PreviousFile, err = decodeFileRef(prevRaw); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) AddComment(ctx context.Context, comment domain.Comment) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO comments (id, document_id, author_id, body, created_at)
VALUES ($1,$2,$3,$4,$5)
`, comment.ID, comment.DocumentID, comment.AuthorID, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListComments(ctx context.Context, documentID string) ([]domain.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, author_id, body, created_at
FROM comments
WHERE document_id = $1
ORDER BY created_at, id
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var groupsRaw []byte
	var fileKey, fileName, fileMime string
	var fileSize int64
	var typeName, creatorName, creatorEmail, approverName, approverEmail sql.NullString

	err := row.Scan(
		&doc.ID, &doc.Title, &status, &doc.OwnerID, &doc.TypeID, &groupsRaw,
		&fileKey, &fileName, &fileSize, &fileMime, &doc.Version, &doc.IsPublic,
		&doc.ApprovedAt, &doc.ApprovedBy, &doc.PublishedAt, &doc.ExpiresAt, &doc.CreatedAt, &doc.UpdatedAt,
		&typeName, &creatorName, &creatorEmail, &approverName, &approverEmail,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = domain.DocumentStatus(status)
	if len(groupsRaw) > 0 {
		if err := json.Unmarshal(groupsRaw, &doc.AccessGroups); err != nil {
			return nil, fmt.Errorf("unmarshal access groups: %w", err)
		}
	}
	if doc.AccessGroups == nil {
		doc.AccessGroups = []string{}
	}
	if fileKey != "" {
		doc.File = &domain.FileRef{StorageKey: fileKey, Filename: fileName, Size: fileSize, MimeType: fileMime}
	}
	if typeName.Valid {
		doc.Type = &domain.DocumentType{ID: doc.TypeID, Name: typeName.String}
	}
	if creatorName.Valid {
		doc.Creator = &domain.UserRef{ID: doc.OwnerID, Name: creatorName.String, Email: creatorEmail.String}
	}
	if approverName.Valid && doc.ApprovedBy != "" {
		doc.Approver = &domain.UserRef{ID: doc.ApprovedBy, Name: approverName.String, Email: approverEmail.String}
	}
	return &doc, nil
}

func documentWhere(filter domain.DocumentFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(column string, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("d.status", string(filter.Status))
	}
	if filter.OwnerID != "" {
		add("d.owner_id", filter.OwnerID)
	}
	if filter.TypeID != "" {
		add("d.type_id", filter.TypeID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}

type fileRow struct {
	key, name, mime string
	size            int64
}

func fileColumns(ref *domain.FileRef) fileRow {
	if ref.Empty() {
		return fileRow{}
	}
	return fileRow{key: ref.StorageKey, name: ref.Filename, mime: ref.MimeType, size: ref.Size}
}

func insertVersion(ctx context.Context, tx execer, v domain.DocumentVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	fileJSON, err := encodeFileRef(v.File)
	if err != nil {
		return err
	}
	prevJSON, err := encodeFileRef(v.PreviousFile)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO document_versions (id, document_id, version, file, previous_file, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, v.ID, v.DocumentID, v.Version, fileJSON, prevJSON, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func encodeFileRef(ref *domain.FileRef) ([]byte, error) {
	if ref.Empty() {
		return nil, nil
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshal file ref: %w", err)
	}
	return raw, nil
}

func decodeFileRef(raw []byte) (*domain.FileRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ref domain.FileRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal file ref: %w", err)
	}
	return &ref, nil
}

func nonNilGroups(groups []string) []string {
	if groups == nil {
		return []string{}
	}
	return groups
}
