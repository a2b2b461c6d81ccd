package httpadapter

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type multipartForm struct {
	form *multipart.Form
	file *domain.FileUpload
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readMultipart parses the request form and opens the optional "file" part.
// The returned cleanup must be called once the handler is done with the file.
func (rt *Router) readMultipart(w http.ResponseWriter, r *http.Request) (*multipartForm, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.options.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, invalidUpload("file", "exceeds maximum upload size")
		}
		return nil, nil, invalidUpload("body", "invalid multipart form: "+err.Error())
	}

	out := &multipartForm{form: r.MultipartForm}
	var opened multipart.File
	if headers := r.MultipartForm.File["file"]; len(headers) > 0 {
		header := headers[0]
		f, err := header.Open()
		if err != nil {
			_ = r.MultipartForm.RemoveAll()
			return nil, nil, invalidUpload("file", "cannot read uploaded file")
		}
		opened = f
		out.file = &domain.FileUpload{
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     header.Size,
			Body:     f,
		}
	}

	cleanup := func() {
		if opened != nil {
			_ = opened.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}
	return out, cleanup, nil
}

func (f *multipartForm) value(name string) string {
	values := f.form.Value[name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// list accepts repeated fields as well as a single comma separated value.
func (f *multipartForm) list(name string) []string {
	var out []string
	for _, raw := range f.form.Value[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (f *multipartForm) time(name string) (*time.Time, error) {
	raw := f.value(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalidUpload(name, "must be an RFC3339 timestamp")
	}
	return &t, nil
}

func missingFile() error {
	return invalidUpload("file", "is required")
}

func invalidUpload(field, message string) error {
	return domain.WrapError(domain.ErrInvalidInput, "read upload", domain.NewValidationError(domain.FieldError{
		Field:   field,
		Message: message,
	}))
}
