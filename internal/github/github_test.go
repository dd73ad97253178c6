package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/routing"
)

// fakeIssues is a scripted stand-in for the Issues service. It holds one
// issue's body and labels, and can fail a leading run of calls with a
// fixed status code.
type fakeIssues struct {
	body    string
	labels  []string
	missing bool

	getCalls    int
	editBodies  []string
	addedLabels [][]string
	removed     []string

	getFails   int
	editFails  int
	failStatus int
}

func respWithStatus(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func (f *fakeIssues) statusErr(code int) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: code},
		Message:  http.StatusText(code),
	}
}

func (f *fakeIssues) Get(ctx context.Context, owner, repo string, number int) (*github.Issue, *github.Response, error) {
	f.getCalls++
	if f.getFails > 0 {
		f.getFails--
		return nil, respWithStatus(f.failStatus), f.statusErr(f.failStatus)
	}
	if f.missing {
		return nil, respWithStatus(http.StatusNotFound), f.statusErr(http.StatusNotFound)
	}
	return &github.Issue{Number: github.Int(number), Body: github.String(f.body)}, respWithStatus(http.StatusOK), nil
}

func (f *fakeIssues) Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	if f.editFails > 0 {
		f.editFails--
		return nil, respWithStatus(f.failStatus), f.statusErr(f.failStatus)
	}
	f.body = issue.GetBody()
	f.editBodies = append(f.editBodies, f.body)
	return &github.Issue{Number: github.Int(number), Body: github.String(f.body)}, respWithStatus(http.StatusOK), nil
}

func (f *fakeIssues) AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error) {
	f.addedLabels = append(f.addedLabels, labels)
	f.labels = append(f.labels, labels...)
	return nil, respWithStatus(http.StatusOK), nil
}

func (f *fakeIssues) RemoveLabelForIssue(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error) {
	for i, l := range f.labels {
		if l == label {
			f.labels = append(f.labels[:i], f.labels[i+1:]...)
			f.removed = append(f.removed, label)
			return respWithStatus(http.StatusOK), nil
		}
	}
	return respWithStatus(http.StatusNotFound), f.statusErr(http.StatusNotFound)
}

func newTestStore(f *fakeIssues) *IssueDocStore {
	s := &IssueDocStore{issues: f, retry: newRetryPolicy(zap.NewNop()), log: zap.NewNop()}
	s.retry.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

const testKey = "octo/widgets#42"

func TestParseKey(t *testing.T) {
	ref, err := ParseKey(testKey)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if ref.Owner != "octo" || ref.Repo != "widgets" || ref.Number != 42 {
		t.Errorf("expected octo/widgets#42, got %+v", ref)
	}
	if ref.String() != testKey {
		t.Errorf("expected round-trip %q, got %q", testKey, ref.String())
	}

	bad := []string{
		"",
		"octo/widgets",
		"octo#42",
		"octo/widgets#",
		"octo/widgets#zero",
		"octo/widgets#0",
		"octo/widgets#-3",
		"octo/sub/widgets#42",
		"/widgets#42",
	}
	for _, key := range bad {
		if _, err := ParseKey(key); err == nil {
			t.Errorf("expected error for key %q, got nil", key)
		}
	}
}

func TestIssueDocStore_Fetch(t *testing.T) {
	f := &fakeIssues{body: "hello ledger"}
	s := newTestStore(f)

	doc, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if doc.Text != "hello ledger" {
		t.Errorf("expected body text, got %q", doc.Text)
	}
	if doc.Token == "" {
		t.Error("expected non-empty token")
	}

	f.body = "someone edited this"
	doc2, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if doc2.Token == doc.Token {
		t.Error("expected token to change with body")
	}
}

func TestIssueDocStore_FetchMissingIssue(t *testing.T) {
	f := &fakeIssues{missing: true}
	s := newTestStore(f)

	_, err := s.Fetch(context.Background(), testKey)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueDocStore_WriteDetectsRivalEdit(t *testing.T) {
	f := &fakeIssues{body: "original"}
	s := newTestStore(f)

	doc, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	f.body = "rival edit"

	doc.Text = "my edit"
	err = s.Write(context.Background(), doc)
	if !errors.Is(err, ledger.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	if len(f.editBodies) != 0 {
		t.Errorf("expected no edit on mismatch, got %d", len(f.editBodies))
	}
	if f.body != "rival edit" {
		t.Errorf("expected rival edit preserved, got %q", f.body)
	}
}

func TestIssueDocStore_WriteAppliesBody(t *testing.T) {
	f := &fakeIssues{body: "original"}
	s := newTestStore(f)

	doc, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	doc.Text = "updated body"
	if err := s.Write(context.Background(), doc); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if f.body != "updated body" {
		t.Errorf("expected body updated, got %q", f.body)
	}
	if len(f.editBodies) != 1 {
		t.Errorf("expected 1 edit call, got %d", len(f.editBodies))
	}
}

func TestIssueDocStore_WriteRetriesServerErrors(t *testing.T) {
	f := &fakeIssues{body: "original", editFails: 2, failStatus: http.StatusBadGateway}
	s := newTestStore(f)

	doc, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	doc.Text = "updated"
	if err := s.Write(context.Background(), doc); err != nil {
		t.Fatalf("expected write to succeed after retries, got %v", err)
	}
	if f.body != "updated" {
		t.Errorf("expected body updated, got %q", f.body)
	}
}

func TestIssueDocStore_Create(t *testing.T) {
	t.Run("existing issue", func(t *testing.T) {
		f := &fakeIssues{body: "already here"}
		s := newTestStore(f)
		err := s.Create(context.Background(), testKey, "scaffold")
		if !errors.Is(err, ledger.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
	})

	t.Run("missing issue", func(t *testing.T) {
		f := &fakeIssues{missing: true}
		s := newTestStore(f)
		err := s.Create(context.Background(), testKey, "scaffold")
		if err == nil {
			t.Fatal("expected error for missing issue")
		}
		if !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected pointer to open the issue, got %v", err)
		}
	})
}

func TestApplyVerdictLabel(t *testing.T) {
	f := &fakeIssues{labels: []string{LabelNeedsRework}}
	s := newTestStore(f)

	if err := s.ApplyVerdictLabel(context.Background(), testKey, routing.VerdictReady); err != nil {
		t.Fatalf("ApplyVerdictLabel failed: %v", err)
	}
	if len(f.labels) != 1 || f.labels[0] != LabelReady {
		t.Errorf("expected only %s, got %v", LabelReady, f.labels)
	}

	// Flipping back removes the ready label.
	if err := s.ApplyVerdictLabel(context.Background(), testKey, routing.VerdictNeedsRework); err != nil {
		t.Fatalf("ApplyVerdictLabel failed: %v", err)
	}
	if len(f.labels) != 1 || f.labels[0] != LabelNeedsRework {
		t.Errorf("expected only %s, got %v", LabelNeedsRework, f.labels)
	}

	// Absent opposite label is fine.
	f2 := &fakeIssues{}
	s2 := newTestStore(f2)
	if err := s2.ApplyVerdictLabel(context.Background(), testKey, routing.VerdictReady); err != nil {
		t.Fatalf("expected missing opposite label to be ignored, got %v", err)
	}
	if len(f2.labels) != 1 || f2.labels[0] != LabelReady {
		t.Errorf("expected only %s, got %v", LabelReady, f2.labels)
	}

	if err := s.ApplyVerdictLabel(context.Background(), testKey, routing.Verdict("nonsense")); err == nil {
		t.Error("expected error for unknown verdict")
	}
}

func TestRetryPolicy_GivesUpAfterBudget(t *testing.T) {
	p := newRetryPolicy(zap.NewNop())
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	err := p.do(context.Background(), "op", func() (*github.Response, error) {
		calls++
		return respWithStatus(http.StatusServiceUnavailable), fmt.Errorf("boom %d", calls)
	})
	if err == nil {
		t.Fatal("expected error after budget spent")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(slept))
	}
	if slept[1] != 2*slept[0] {
		t.Errorf("expected doubling backoff, got %v then %v", slept[0], slept[1])
	}
}

func TestRetryPolicy_ClientErrorsNotRetried(t *testing.T) {
	p := newRetryPolicy(zap.NewNop())
	p.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	err := p.do(context.Background(), "op", func() (*github.Response, error) {
		calls++
		return respWithStatus(http.StatusUnprocessableEntity), errors.New("validation failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected single attempt for client error, got %d", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := map[string]struct {
		err  error
		resp *github.Response
		want bool
	}{
		"nil error":         {nil, respWithStatus(200), false},
		"context canceled":  {context.Canceled, nil, false},
		"deadline exceeded": {context.DeadlineExceeded, nil, false},
		"network no resp":   {errors.New("connection reset"), nil, true},
		"rate limit error":  {&github.RateLimitError{}, respWithStatus(403), true},
		"abuse rate limit":  {&github.AbuseRateLimitError{}, respWithStatus(403), true},
		"429":               {errors.New("too many"), respWithStatus(http.StatusTooManyRequests), true},
		"500":               {errors.New("internal"), respWithStatus(http.StatusInternalServerError), true},
		"503":               {errors.New("unavailable"), respWithStatus(http.StatusServiceUnavailable), true},
		"404":               {errors.New("missing"), respWithStatus(http.StatusNotFound), false},
		"422":               {errors.New("invalid"), respWithStatus(http.StatusUnprocessableEntity), false},
		"403 without quota": {errors.New("forbidden"), respWithStatus(http.StatusForbidden), false},
		"403 quota exhausted": {errors.New("forbidden"), &github.Response{
			Response: &http.Response{StatusCode: http.StatusForbidden},
			Rate:     github.Rate{Limit: 5000, Remaining: 0},
		}, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := isRetryable(tt.err, tt.resp); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRateLimitBackoff(t *testing.T) {
	if got := rateLimitBackoff(nil); got != 0 {
		t.Errorf("expected 0 for nil response, got %v", got)
	}

	quotaLeft := &github.Response{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Rate:     github.Rate{Limit: 5000, Remaining: 12},
	}
	if got := rateLimitBackoff(quotaLeft); got != 0 {
		t.Errorf("expected 0 with quota remaining, got %v", got)
	}

	exhausted := &github.Response{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Rate: github.Rate{
			Limit:     5000,
			Remaining: 0,
			Reset:     github.Timestamp{Time: time.Now().Add(2 * time.Second)},
		},
	}
	got := rateLimitBackoff(exhausted)
	if got <= 0 || got > 2*time.Second {
		t.Errorf("expected backoff within reset window, got %v", got)
	}

	past := &github.Response{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Rate: github.Rate{
			Limit:     5000,
			Remaining: 0,
			Reset:     github.Timestamp{Time: time.Now().Add(-time.Minute)},
		},
	}
	if got := rateLimitBackoff(past); got != 0 {
		t.Errorf("expected 0 for reset in the past, got %v", got)
	}
}

// The manager's read-modify-write discipline should work unchanged over
// issue bodies.
func TestManagerOverIssueStore(t *testing.T) {
	f := &fakeIssues{body: ""}
	s := newTestStore(f)
	m := ledger.NewManager(s)
	ctx := context.Background()

	if err := m.Init(ctx, testKey, "widgets #42"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := m.AppendHopLog(ctx, testKey, "- first hop"); err != nil {
		t.Fatalf("AppendHopLog failed: %v", err)
	}
	if err := m.AppendHopLog(ctx, testKey, "- second hop"); err != nil {
		t.Fatalf("AppendHopLog failed: %v", err)
	}

	doc, err := m.Read(ctx, testKey)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	hops, err := m.Region(doc, ledger.RegionHopLog)
	if err != nil {
		t.Fatalf("Region failed: %v", err)
	}
	if !strings.Contains(hops, "- first hop\n- second hop") {
		t.Errorf("expected both hops in order, got %q", hops)
	}
}

func TestReadEnvFileVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nGITHUB_TOKEN=ghp_abc123\nexport GH_TOKEN=ghp_def456\nBROKEN\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	if got := readEnvFileVar(path, "GITHUB_TOKEN"); got != "ghp_abc123" {
		t.Errorf("expected ghp_abc123, got %q", got)
	}
	if got := readEnvFileVar(path, "GH_TOKEN"); got != "ghp_def456" {
		t.Errorf("expected ghp_def456 from export line, got %q", got)
	}
	if got := readEnvFileVar(path, "MISSING"); got != "" {
		t.Errorf("expected empty for missing key, got %q", got)
	}
	if got := readEnvFileVar(filepath.Join(dir, "nope"), "GITHUB_TOKEN"); got != "" {
		t.Errorf("expected empty for missing file, got %q", got)
	}
}
