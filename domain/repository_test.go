package domain

import (
	"errors"
	"testing"
)

func TestRepoKey(t *testing.T) {
	key, err := RepoKey("alice", "widgets")
	if err != nil {
		t.Fatalf("RepoKey() error: %v", err)
	}
	if key != "alice_widgets" {
		t.Errorf("RepoKey() = %q, want alice_widgets", key)
	}
}

func TestRepoKey_Invalid(t *testing.T) {
	tests := []struct {
		user, repo string
		want       error
	}{
		{"", "r", ErrMissingRepository},
		{"u", "  ", ErrMissingRepository},
		{"..", "r", ErrInvalidRepository},
		{"u", "a/b", ErrInvalidRepository},
	}
	for _, tt := range tests {
		_, err := RepoKey(tt.user, tt.repo)
		if !errors.Is(err, tt.want) {
			t.Errorf("RepoKey(%q, %q) error = %v, want %v", tt.user, tt.repo, err, tt.want)
		}
		if !IsRequestError(err) {
			t.Errorf("RepoKey(%q, %q) error should be a request error", tt.user, tt.repo)
		}
	}
}
