package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/routing"
)

// Verdict labels applied on finalize. Each replaces the other.
const (
	LabelReady       = "gates/ready"
	LabelNeedsRework = "gates/needs-rework"
)

// issuesAPI is the slice of the GitHub Issues service the store uses.
type issuesAPI interface {
	Get(ctx context.Context, owner, repo string, number int) (*github.Issue, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
	RemoveLabelForIssue(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error)
}

// IssueDocStore implements ledger.DocStore over GitHub issue bodies. The
// key is "owner/repo#number" and the conditional-write token is a hash of
// the body. The API has no compare-and-swap, so Write re-reads the body
// and compares hashes just before editing; the remaining race window is
// one HTTP round trip wide, and the hop log's append discipline keeps a
// lost race recoverable.
type IssueDocStore struct {
	issues issuesAPI
	retry  retryPolicy
	log    *zap.Logger
}

// NewIssueDocStore wraps an authenticated client.
func NewIssueDocStore(client *github.Client, log *zap.Logger) *IssueDocStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &IssueDocStore{issues: client.Issues, retry: newRetryPolicy(log), log: log}
}

func bodyToken(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Fetch implements ledger.DocStore.
func (s *IssueDocStore) Fetch(ctx context.Context, key string) (ledger.Document, error) {
	ref, err := ParseKey(key)
	if err != nil {
		return ledger.Document{}, err
	}
	issue, err := s.getIssue(ctx, ref)
	if err != nil {
		return ledger.Document{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	body := issue.GetBody()
	return ledger.Document{Key: key, Text: body, Token: bodyToken(body)}, nil
}

// Write implements ledger.DocStore.
func (s *IssueDocStore) Write(ctx context.Context, doc ledger.Document) error {
	ref, err := ParseKey(doc.Key)
	if err != nil {
		return err
	}
	issue, err := s.getIssue(ctx, ref)
	if err != nil {
		return fmt.Errorf("write %s: %w", doc.Key, err)
	}
	if bodyToken(issue.GetBody()) != doc.Token {
		return fmt.Errorf("write %s: %w", doc.Key, ledger.ErrTokenMismatch)
	}
	req := &github.IssueRequest{Body: github.String(doc.Text)}
	err = s.retry.do(ctx, "issues.edit", func() (*github.Response, error) {
		_, resp, err := s.issues.Edit(ctx, ref.Owner, ref.Repo, ref.Number, req)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", doc.Key, err)
	}
	return nil
}

// Create implements ledger.DocStore. Issues cannot be minted at a chosen
// number, so the issue must already exist; an existing issue with a blank
// body is handled by the manager's rewrite path, not here.
func (s *IssueDocStore) Create(ctx context.Context, key, text string) error {
	ref, err := ParseKey(key)
	if err != nil {
		return err
	}
	_, err = s.getIssue(ctx, ref)
	if err == nil {
		return fmt.Errorf("create %s: %w", key, ledger.ErrExists)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("create %s: issue does not exist; open it before pointing the ledger at it", key)
	}
	return fmt.Errorf("create %s: %w", key, err)
}

// ApplyVerdictLabel sets the label for a finalize verdict and removes the
// opposite one. Label state is a reviewer convenience, so a missing
// opposite label is not an error.
func (s *IssueDocStore) ApplyVerdictLabel(ctx context.Context, key string, verdict routing.Verdict) error {
	ref, err := ParseKey(key)
	if err != nil {
		return err
	}
	var add, remove string
	switch verdict {
	case routing.VerdictReady:
		add, remove = LabelReady, LabelNeedsRework
	case routing.VerdictNeedsRework:
		add, remove = LabelNeedsRework, LabelReady
	default:
		return fmt.Errorf("label %s: unknown verdict %q", key, verdict)
	}
	err = s.retry.do(ctx, "issues.add_labels", func() (*github.Response, error) {
		_, resp, err := s.issues.AddLabelsToIssue(ctx, ref.Owner, ref.Repo, ref.Number, []string{add})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("label %s: add %s: %w", key, add, err)
	}
	var removeResp *github.Response
	err = s.retry.do(ctx, "issues.remove_label", func() (*github.Response, error) {
		resp, err := s.issues.RemoveLabelForIssue(ctx, ref.Owner, ref.Repo, ref.Number, remove)
		removeResp = resp
		return resp, err
	})
	if err != nil && !isNotFound(removeResp, err) {
		return fmt.Errorf("label %s: remove %s: %w", key, remove, err)
	}
	return nil
}

func (s *IssueDocStore) getIssue(ctx context.Context, ref IssueRef) (*github.Issue, error) {
	var issue *github.Issue
	var lastResp *github.Response
	err := s.retry.do(ctx, "issues.get", func() (*github.Response, error) {
		var err error
		var resp *github.Response
		issue, resp, err = s.issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		lastResp = resp
		return resp, err
	})
	if err != nil {
		if isNotFound(lastResp, err) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return issue, nil
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
