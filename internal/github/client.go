// Package github backs the ledger with a GitHub issue body and applies the
// verdict labels reviewers filter by. The issue body carries the anchored
// regions; conditional writes are emulated by hashing the body, since the
// API offers no compare-and-swap.
package github

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ResolveToken finds a GitHub token: GITHUB_TOKEN then GH_TOKEN from the
// environment, then the same keys from ~/.gatewright/.env.
func ResolveToken() string {
	keys := []string{"GITHUB_TOKEN", "GH_TOKEN"}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	envPath := filepath.Join(home, ".gatewright", ".env")
	for _, key := range keys {
		if v := readEnvFileVar(envPath, key); v != "" {
			return v
		}
	}
	return ""
}

// readEnvFileVar reads the value of a specific key from a .env file.
// Supports both "KEY=VALUE" and "export KEY=VALUE" formats.
// Returns empty string if the file or key is not found.
func readEnvFileVar(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == key {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// NewClient creates an authenticated GitHub API client.
func NewClient(ctx context.Context, token string) (*github.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set (GITHUB_TOKEN, GH_TOKEN, or ~/.gatewright/.env)")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc), nil
}

// IssueRef addresses one issue.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// ParseKey parses a ledger key of the form "owner/repo#123".
func ParseKey(key string) (IssueRef, error) {
	repoPart, numPart, ok := strings.Cut(key, "#")
	if !ok {
		return IssueRef{}, fmt.Errorf("ledger key %q: want owner/repo#number", key)
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return IssueRef{}, fmt.Errorf("ledger key %q: want owner/repo#number", key)
	}
	number, err := strconv.Atoi(numPart)
	if err != nil || number <= 0 {
		return IssueRef{}, fmt.Errorf("ledger key %q: issue number %q is not positive", key, numPart)
	}
	return IssueRef{Owner: owner, Repo: repo, Number: number}, nil
}
