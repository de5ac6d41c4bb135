package model

import (
	"strings"
	"testing"
)

func TestNewRepositoryBadgeSettings(t *testing.T) {
	org := &Organization{Name: "acme"}

	t.Run("synced above open issues", func(t *testing.T) {
		repo := &ExternalRepository{ID: "r1", OpenIssues: intPtr(3), SyncedIssues: 5}
		got := NewRepositoryBadgeSettings(org, repo)
		if got.OpenIssues != 5 {
			t.Errorf("OpenIssues = %d, want 5", got.OpenIssues)
		}
		if !got.IsSyncCompleted {
			t.Error("sync should be complete")
		}
	})

	t.Run("sync in progress", func(t *testing.T) {
		repo := &ExternalRepository{ID: "r2", OpenIssues: intPtr(10), SyncedIssues: 4}
		got := NewRepositoryBadgeSettings(org, repo)
		if got.OpenIssues != 10 || got.IsSyncCompleted {
			t.Errorf("got open=%d completed=%v", got.OpenIssues, got.IsSyncCompleted)
		}
	})

	t.Run("unknown open issues", func(t *testing.T) {
		repo := &ExternalRepository{ID: "r3"}
		got := NewRepositoryBadgeSettings(org, repo)
		if got.OpenIssues != 0 || !got.IsSyncCompleted {
			t.Errorf("got open=%d completed=%v", got.OpenIssues, got.IsSyncCompleted)
		}
	})
}

func TestOrganization_BadgeMessage(t *testing.T) {
	org := &Organization{Name: "acme"}
	if msg := org.BadgeMessage(); !strings.Contains(msg, "acme") {
		t.Errorf("default message = %q", msg)
	}

	custom := "Back us!"
	org.DefaultBadgeCustomContent = &custom
	if msg := org.BadgeMessage(); msg != custom {
		t.Errorf("message = %q, want %q", msg, custom)
	}
}
