package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const DefaultMaxBytes int64 = 25 << 20

func DefaultAllowedMimeTypes() []string {
	return []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"text/plain",
		"text/csv",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
}

type Options struct {
	MaxBytes         int64
	AllowedMimeTypes []string
}

// Store validates uploads and persists them to object storage under
// "<document id>/<uuid>_<filename>" keys.
type Store struct {
	storage  ports.ObjectStorage
	maxBytes int64
	allowed  map[string]struct{}
}

func New(storage ports.ObjectStorage, options Options) *Store {
	maxBytes := options.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	allowedTypes := options.AllowedMimeTypes
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedMimeTypes()
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[baseType(t)] = struct{}{}
	}
	return &Store{storage: storage, maxBytes: maxBytes, allowed: allowed}
}

// Validate reads the whole upload, bounded by the size cap, and checks its
// sniffed content type. PDFs must also parse and contain at least one page.
func (s *Store) Validate(_ context.Context, upload domain.FileUpload) (*domain.ValidatedFile, error) {
	filename := sanitizeFilename(upload.Filename)
	if filename == "" {
		return nil, invalidFile("filename is required")
	}
	if upload.Body == nil {
		return nil, invalidFile("file body is required")
	}
	if upload.Size > s.maxBytes {
		return nil, invalidFile(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	content, err := io.ReadAll(io.LimitReader(upload.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, invalidFile("file is empty")
	}
	if int64(len(content)) > s.maxBytes {
		return nil, invalidFile(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	mimeType := detectMimeType(filename, content)
	if _, ok := s.allowed[mimeType]; !ok {
		return nil, invalidFile(fmt.Sprintf("content type %s is not allowed", mimeType))
	}
	if mimeType == "application/pdf" {
		if err := checkPDF(content); err != nil {
			return nil, invalidFile(err.Error())
		}
	}

	return &domain.ValidatedFile{Filename: filename, MimeType: mimeType, Content: content}, nil
}

func (s *Store) Persist(ctx context.Context, documentID string, file *domain.ValidatedFile) (domain.FileRef, error) {
	if file == nil {
		return domain.FileRef{}, invalidFile("file is required")
	}
	key := documentID + "/" + uuid.NewString() + "_" + file.Filename
	if err := s.storage.Save(ctx, key, bytes.NewReader(file.Content), file.Size(), file.MimeType); err != nil {
		return domain.FileRef{}, fmt.Errorf("save file %s: %w", key, err)
	}
	return domain.FileRef{
		StorageKey: key,
		Filename:   file.Filename,
		Size:       file.Size(),
		MimeType:   file.MimeType,
	}, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.storage.Open(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// detectMimeType trusts the sniffed type unless it is a generic container,
// in which case the file extension decides.
func detectMimeType(filename string, content []byte) string {
	sniffed := baseType(http.DetectContentType(content))
	switch sniffed {
	case "application/octet-stream", "application/zip", "text/plain":
		if byExt := extensionType(filename); byExt != "" {
			if sniffed == "text/plain" && !strings.HasPrefix(byExt, "text/") {
				return sniffed
			}
			return byExt
		}
	}
	return sniffed
}

var knownExtensions = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func extensionType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := knownExtensions[ext]; ok {
		return t
	}
	return baseType(mime.TypeByExtension(ext))
}

// checkPDF recovers from parser panics, which the reader raises on some
// malformed object streams.
func checkPDF(content []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("file is not a readable PDF")
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("file is not a readable PDF")
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("PDF has no pages")
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' {
			return -1
		}
		return r
	}, name)
}

func baseType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func invalidFile(message string) error {
	return domain.WrapError(domain.ErrInvalidInput, "validate file", domain.NewValidationError(domain.FieldError{
		Field:   "file",
		Message: message,
	}))
}
