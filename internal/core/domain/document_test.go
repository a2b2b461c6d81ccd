package domain

import "testing"

func TestParseDocumentStatusAcceptsKnownValues(t *testing.T) {
	for _, status := range AllStatuses() {
		got, err := ParseDocumentStatus(" " + string(status) + " ")
		if err != nil {
			t.Fatalf("ParseDocumentStatus(%q) error = %v", status, err)
		}
		if got != status {
			t.Fatalf("expected %q, got %q", status, got)
		}
	}

	got, err := ParseDocumentStatus("pending_review")
	if err != nil || got != StatusPendingReview {
		t.Fatalf("expected lowercase input to parse, got %q err=%v", got, err)
	}
}

func TestParseDocumentStatusRejectsUnknown(t *testing.T) {
	_, err := ParseDocumentStatus("SHREDDED")
	if !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	fields := ValidationFields(err)
	if len(fields) != 1 || fields[0].Field != "status" {
		t.Fatalf("expected status field error, got %+v", fields)
	}
}

func TestOnlyExpiredIsTerminal(t *testing.T) {
	for _, status := range AllStatuses() {
		if status.Terminal() != (status == StatusExpired) {
			t.Fatalf("unexpected Terminal() for %s", status)
		}
	}
}

func TestNextVersion(t *testing.T) {
	cases := map[string]string{
		"1.0":  "2.0",
		"3.4":  "4.0",
		"v7":   "8.0",
		"":     "2.0",
		"beta": "2.0",
	}
	for in, want := range cases {
		if got := NextVersion(in); got != want {
			t.Fatalf("NextVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloneDoesNotShareMutableState(t *testing.T) {
	doc := &Document{
		ID:           "doc-1",
		AccessGroups: []string{"legal"},
		File:         &FileRef{StorageKey: "a"},
	}
	clone := doc.Clone()
	clone.AccessGroups[0] = "finance"
	clone.File.StorageKey = "b"

	if doc.AccessGroups[0] != "legal" || doc.File.StorageKey != "a" {
		t.Fatalf("clone mutated original: %+v", doc)
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	verr := NewValidationError()
	if verr.OrNil() != nil {
		t.Fatalf("expected nil for empty validation error")
	}
	verr.Add("comment", "too long")
	if verr.OrNil() == nil {
		t.Fatalf("expected error after Add")
	}
	if verr.Error() != "comment: too long" {
		t.Fatalf("unexpected message %q", verr.Error())
	}
}
