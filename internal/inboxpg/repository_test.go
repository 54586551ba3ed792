package inboxpg

import "testing"

func TestNew_DefaultTable(t *testing.T) {
	repo := New(nil, "")
	if repo.table != "inbox_messages" {
		t.Errorf("expected default table inbox_messages, got %s", repo.table)
	}
}

func TestNew_CustomTable(t *testing.T) {
	repo := New(nil, "custom_inbox")
	if repo.table != "custom_inbox" {
		t.Errorf("expected custom_inbox, got %s", repo.table)
	}
}

func TestIsUniqueViolation_NonPgError(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil error should not be a unique violation")
	}
}
