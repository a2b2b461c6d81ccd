package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{
			name: "missing key",
			err:  minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound},
			kind: domain.ErrDocumentNotFound,
		},
		{
			name: "throttled",
			err:  minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable},
			kind: domain.ErrTemporary,
		},
		{
			name: "transport",
			err:  errors.New("dial tcp: connection refused"),
			kind: domain.ErrTemporary,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyResponse("get object", tc.err); !domain.IsKind(got, tc.kind) {
				t.Fatalf("classifyResponse() = %v, want kind %v", got, tc.kind)
			}
		})
	}

	denied := classifyResponse("put object", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})
	if domain.IsKind(denied, domain.ErrTemporary) || domain.IsKind(denied, domain.ErrDocumentNotFound) {
		t.Fatalf("expected access denied to stay unclassified, got %v", denied)
	}
}

func TestNewRejectsEmptyEndpoint(t *testing.T) {
	if _, err := New(Config{Bucket: "documents"}, nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
