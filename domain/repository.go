package domain

import (
	"fmt"
	"strings"
)

// RepoKey derives the identifier used both as the collection name and as
// the path segment of the chunk source for a repository.
func RepoKey(user, repo string) (string, error) {
	user = strings.TrimSpace(user)
	repo = strings.TrimSpace(repo)
	if user == "" || repo == "" {
		return "", ErrMissingRepository
	}
	for _, part := range []string{user, repo} {
		if part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidRepository, part)
		}
	}
	return user + "_" + repo, nil
}
