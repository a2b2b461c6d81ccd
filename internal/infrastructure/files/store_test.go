package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type objectStorageFake struct {
	objects map[string][]byte
	types   map[string]string
	saveErr error
	deleted []string
}

func newObjectStorageFake() *objectStorageFake {
	return &objectStorageFake{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *objectStorageFake) Save(_ context.Context, key string, data io.Reader, _ int64, contentType string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = body
	f.types[key] = contentType
	return nil
}

func (f *objectStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *objectStorageFake) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

// onePagePDF builds the smallest document the PDF reader accepts: a catalog,
// a page tree with one page and a classic xref table.
func onePagePDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestValidateAcceptsPDF(t *testing.T) {
	store := New(newObjectStorageFake(), Options{})
	content := onePagePDF()

	file, err := store.Validate(context.Background(), domain.FileUpload{
		Filename: "contracts/q3 report.pdf",
		Size:     int64(len(content)),
		Body:     bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if file.MimeType != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", file.MimeType)
	}
	if file.Filename != "q3 report.pdf" {
		t.Fatalf("expected directory stripped from filename, got %q", file.Filename)
	}
	if file.Size() != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), file.Size())
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name     string
		options  Options
		filename string
		body     []byte
	}{
		{name: "empty", filename: "a.txt", body: nil},
		{name: "missing filename", filename: "  ", body: []byte("hello")},
		{name: "oversize", options: Options{MaxBytes: 4}, filename: "a.txt", body: []byte("hello")},
		{name: "disallowed type", options: Options{AllowedMimeTypes: []string{"application/pdf"}}, filename: "a.txt", body: []byte("hello")},
		{name: "corrupt pdf", filename: "broken.pdf", body: []byte("%PDF-1.4\nnot really a pdf\n")},
		{name: "html", filename: "page.html", body: []byte("<html><body>x</body></html>")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := New(newObjectStorageFake(), tc.options)
			_, err := store.Validate(context.Background(), domain.FileUpload{
				Filename: tc.filename,
				Body:     bytes.NewReader(tc.body),
			})
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			fields := domain.ValidationFields(err)
			if len(fields) != 1 || fields[0].Field != "file" {
				t.Fatalf("expected one file field error, got %+v", fields)
			}
		})
	}
}

func TestValidateUsesExtensionForContainers(t *testing.T) {
	store := New(newObjectStorageFake(), Options{})
	zipHeader := []byte("PK\x03\x04\x14\x00\x06\x00rest-of-archive")

	file, err := store.Validate(context.Background(), domain.FileUpload{
		Filename: "budget.xlsx",
		Body:     bytes.NewReader(zipHeader),
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !strings.Contains(file.MimeType, "spreadsheetml") {
		t.Fatalf("expected xlsx mime type, got %s", file.MimeType)
	}

	if _, err := store.Validate(context.Background(), domain.FileUpload{
		Filename: "archive.zip",
		Body:     bytes.NewReader(zipHeader),
	}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected plain zip to be rejected, got %v", err)
	}
}

func TestPersistStoresUnderDocumentPrefix(t *testing.T) {
	storage := newObjectStorageFake()
	store := New(storage, Options{})
	file := &domain.ValidatedFile{Filename: "notes.txt", MimeType: "text/plain", Content: []byte("hello")}

	ref, err := store.Persist(context.Background(), "doc-1", file)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if !strings.HasPrefix(ref.StorageKey, "doc-1/") || !strings.HasSuffix(ref.StorageKey, "_notes.txt") {
		t.Fatalf("unexpected storage key %q", ref.StorageKey)
	}
	if ref.Size != 5 || ref.MimeType != "text/plain" || ref.Filename != "notes.txt" {
		t.Fatalf("unexpected file ref %+v", ref)
	}
	if storage.types[ref.StorageKey] != "text/plain" {
		t.Fatalf("expected content type passed to storage")
	}

	rc, err := store.Open(context.Background(), ref.StorageKey)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}

	if err := store.Delete(context.Background(), ref.StorageKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(storage.deleted) != 1 {
		t.Fatalf("expected delete to reach storage")
	}
}

func TestPersistPropagatesStorageError(t *testing.T) {
	storage := newObjectStorageFake()
	storage.saveErr = domain.WrapError(domain.ErrTemporary, "put object", io.ErrUnexpectedEOF)
	store := New(storage, Options{})

	_, err := store.Persist(context.Background(), "doc-1", &domain.ValidatedFile{Filename: "a.txt", Content: []byte("x")})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
