// Package github lists open GitHub issues as work items through the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

const defaultTimeout = 60 * time.Second

// Options configures an IssueSource.
type Options struct {
	// Repo is owner/name. Empty means the repository of the working
	// directory, as resolved by gh.
	Repo   string
	Labels []string
	Limit  int
	// LabelPriority maps label names to weights. An issue's priority is the
	// highest weight among its labels.
	LabelPriority map[string]int
	Timeout       time.Duration
}

// IssueSource implements core.IssueSource over `gh issue list`.
type IssueSource struct {
	runner CommandRunner
	opts   Options
}

// NewIssueSource creates an issue source. A nil runner uses ExecRunner.
func NewIssueSource(runner CommandRunner, opts Options) *IssueSource {
	if runner == nil {
		runner = NewExecRunner()
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &IssueSource{runner: runner, opts: opts}
}

// Name implements core.IssueSource.
func (s *IssueSource) Name() string {
	if s.opts.Repo != "" {
		return "github:" + s.opts.Repo
	}
	return "github"
}

// issuePayload is what the fixer unit receives for a GitHub issue.
type issuePayload struct {
	Repo   string   `json:"repo,omitempty"`
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	URL    string   `json:"url"`
	Labels []string `json:"labels"`
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// ListItems implements core.IssueSource.
func (s *IssueSource) ListItems(ctx context.Context) ([]core.WorkItemSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	output, err := s.runner.Run(ctx, "gh", s.args()...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, core.ErrTimeout("gh issue list timed out")
		}
		if NotInstalled(err) {
			return nil, core.ErrValidation("GH_NOT_INSTALLED", "gh CLI not found in PATH").WithCause(err)
		}
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	return s.parse(output)
}

func (s *IssueSource) args() []string {
	args := []string{"issue", "list",
		"--state", "open",
		"--json", "number,title,body,labels,url",
		"--limit", strconv.Itoa(s.opts.Limit),
	}
	if s.opts.Repo != "" {
		args = append(args, "--repo", s.opts.Repo)
	}
	for _, l := range s.opts.Labels {
		args = append(args, "--label", l)
	}
	return args
}

func (s *IssueSource) parse(output string) ([]core.WorkItemSpec, error) {
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}
	var issues []ghIssue
	if err := json.Unmarshal([]byte(output), &issues); err != nil {
		return nil, fmt.Errorf("parsing gh issue list output: %w", err)
	}

	specs := make([]core.WorkItemSpec, 0, len(issues))
	for _, is := range issues {
		labels := make([]string, len(is.Labels))
		for i, l := range is.Labels {
			labels[i] = l.Name
		}
		payload, err := json.Marshal(issuePayload{
			Repo:   s.opts.Repo,
			Number: is.Number,
			Title:  is.Title,
			Body:   is.Body,
			URL:    is.URL,
			Labels: labels,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding issue #%d: %w", is.Number, err)
		}
		specs = append(specs, core.WorkItemSpec{
			ID:       s.itemID(is.Number),
			Payload:  string(payload),
			Priority: s.priority(labels),
		})
	}
	return specs, nil
}

// itemID is stable across runs and hosts so that every orchestrator locks
// the same resource for the same issue.
func (s *IssueSource) itemID(number int) string {
	if s.opts.Repo != "" {
		return fmt.Sprintf("%s#%d", s.opts.Repo, number)
	}
	return fmt.Sprintf("issue#%d", number)
}

func (s *IssueSource) priority(labels []string) int {
	best := 0
	for _, l := range labels {
		if w, ok := s.opts.LabelPriority[strings.ToLower(l)]; ok && w > best {
			best = w
		}
	}
	return best
}
