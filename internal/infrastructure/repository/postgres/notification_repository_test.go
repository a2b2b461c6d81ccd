package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestNotificationSaveStoresData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepository(db)

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("n-1", "u-owner", string(domain.NotifyDocumentRejected), "doc-1", "Quarterly report",
			"rejected", "u-mgr", []byte(`{"comment":"missing figures"}`), at, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Save(context.Background(), domain.Notification{
		ID:         "n-1",
		UserID:     "u-owner",
		Type:       domain.NotifyDocumentRejected,
		DocumentID: "doc-1",
		Title:      "Quarterly report",
		Message:    "rejected",
		ActorID:    "u-mgr",
		Data:       map[string]string{domain.NotificationDataComment: "missing figures"},
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNotificationListDecodesData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepository(db)

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM notifications").
		WithArgs("u-owner", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "type", "document_id", "title", "message", "actor_id", "data", "created_at", "read_at",
		}).AddRow("n-1", "u-owner", "document_rejected", "doc-1", "Quarterly report", "rejected", "u-mgr",
			[]byte(`{"comment":"missing figures","to_status":"REJECTED"}`), at, nil))

	items, err := repo.ListForUser(context.Background(), "u-owner", domain.Page{Limit: 20})
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(items) != 1 || items[0].Data[domain.NotificationDataComment] != "missing figures" {
		t.Fatalf("unexpected notifications: %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
