package github

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

const issueListOutput = `[
  {"number": 12, "title": "Crash on empty input", "body": "stack trace", "url": "https://github.com/acme/widgets/issues/12",
   "labels": [{"name": "bug"}, {"name": "Critical"}]},
  {"number": 15, "title": "Typo in README", "body": "", "url": "https://github.com/acme/widgets/issues/15",
   "labels": []},
  {"number": 18, "title": "Flaky test", "body": "fails 1 in 10", "url": "https://github.com/acme/widgets/issues/18",
   "labels": [{"name": "bug"}]}
]`

func TestIssueSource_ListItems(t *testing.T) {
	runner := NewMockRunner().On("gh issue list", issueListOutput, nil)
	src := NewIssueSource(runner, Options{
		Repo:          "acme/widgets",
		Labels:        []string{"bug", "help wanted"},
		Limit:         20,
		LabelPriority: map[string]int{"critical": 100, "bug": 10},
	})

	specs, err := src.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("len(specs) = %d, want 3", len(specs))
	}

	want := []struct {
		id       string
		priority int
	}{
		{"acme/widgets#12", 100},
		{"acme/widgets#15", 0},
		{"acme/widgets#18", 10},
	}
	for i, w := range want {
		if specs[i].ID != w.id || specs[i].Priority != w.priority {
			t.Errorf("specs[%d] = %s/%d, want %s/%d", i, specs[i].ID, specs[i].Priority, w.id, w.priority)
		}
	}

	var payload issuePayload
	if err := json.Unmarshal([]byte(specs[0].Payload), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Number != 12 || payload.Title != "Crash on empty input" || len(payload.Labels) != 2 {
		t.Errorf("payload = %+v", payload)
	}

	call := strings.Join(runner.LastCall(), " ")
	for _, part := range []string{
		"--json number,title,body,labels,url",
		"--limit 20",
		"--repo acme/widgets",
		"--label bug",
		"--label help wanted",
		"--state open",
	} {
		if !strings.Contains(call, part) {
			t.Errorf("command %q missing %q", call, part)
		}
	}
	if src.Name() != "github:acme/widgets" {
		t.Errorf("Name() = %q", src.Name())
	}
}

func TestIssueSource_CurrentRepo(t *testing.T) {
	runner := NewMockRunner().On("gh issue list", `[{"number": 7, "title": "t", "labels": []}]`, nil)
	src := NewIssueSource(runner, Options{})

	specs, err := src.ListItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].ID != "issue#7" {
		t.Errorf("specs = %+v", specs)
	}
	if strings.Contains(strings.Join(runner.LastCall(), " "), "--repo") {
		t.Error("--repo should be omitted")
	}
	if !strings.Contains(strings.Join(runner.LastCall(), " "), "--limit 50") {
		t.Error("default limit should be 50")
	}
}

func TestIssueSource_EmptyOutput(t *testing.T) {
	src := NewIssueSource(NewMockRunner().On("gh issue list", "", nil), Options{Repo: "a/b"})
	specs, err := src.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(specs) != 0 {
		t.Errorf("specs = %v, want none", specs)
	}
}

func TestIssueSource_Errors(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		err      error
		wantCode string
	}{
		{"command failed", "", &RunError{Command: "gh issue list", Stderr: "HTTP 401", Err: errors.New("exit status 1")}, ""},
		{"not installed", "", &RunError{Command: "gh", Err: exec.ErrNotFound}, "GH_NOT_INSTALLED"},
		{"bad json", "not json", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewIssueSource(NewMockRunner().On("gh issue list", tt.output, tt.err), Options{})
			_, err := src.ListItems(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantCode != "" && core.GetCode(err) != tt.wantCode {
				t.Errorf("code = %q, want %q", core.GetCode(err), tt.wantCode)
			}
		})
	}
}

type slowRunner struct{}

func (slowRunner) Run(ctx context.Context, _ string, _ ...string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestIssueSource_Timeout(t *testing.T) {
	src := NewIssueSource(slowRunner{}, Options{Timeout: 20 * time.Millisecond})
	_, err := src.ListItems(context.Background())
	if !core.IsCategory(err, core.ErrCatTimeout) {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestRunError(t *testing.T) {
	err := &RunError{Command: "gh issue list", Stderr: "boom", Err: exec.ErrNotFound}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !NotInstalled(err) {
		t.Error("NotInstalled should see through RunError")
	}
}
