// Package revision derives the immutable content identifier an evaluation
// is scoped to. A clean tree is identified by its HEAD commit; a dirty tree
// gets a distinct id that changes whenever the uncommitted diff changes, so
// editing a file always starts a fresh evaluation.
package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

const shortLen = 12

var revisionRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Derive computes the revision id for a working directory: the HEAD commit
// truncated to twelve hex digits, extended with a hash of the uncommitted
// diff when the tree is dirty. Untracked files count as dirty too.
func Derive(git GitRunner, dir string) (string, error) {
	head, err := git.Run(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("derive revision: %w", err)
	}
	head = strings.ToLower(head)
	if len(head) < shortLen {
		return "", fmt.Errorf("derive revision: rev-parse returned %q", head)
	}
	id := head[:shortLen]

	porcelain, err := git.Run(dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("derive revision: %w", err)
	}
	if strings.TrimSpace(porcelain) == "" {
		return id, nil
	}

	// Dirty tree: mix the tracked diff and the untracked file list so any
	// content change moves the id.
	diff, err := git.Run(dir, "diff", "HEAD")
	if err != nil {
		return "", fmt.Errorf("derive revision: %w", err)
	}
	sum := sha256.Sum256([]byte(diff + "\x00" + porcelain))
	return id + "-dirty-" + hex.EncodeToString(sum[:])[:shortLen], nil
}

// Validate checks an explicitly supplied revision string. Derived ids
// always pass; hand-supplied ones must be lowercase tokens so they survive
// file names, table cells, and evidence lines unescaped.
func Validate(rev string) error {
	if rev == "" {
		return fmt.Errorf("revision is empty")
	}
	if !revisionRe.MatchString(rev) {
		return fmt.Errorf("revision %q is not a lowercase token", rev)
	}
	return nil
}
