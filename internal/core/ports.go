package core

import (
	"context"
	"time"
)

// IssueSource supplies the ordered backlog that seeds a run. Filtering and
// ranking happen behind this interface.
type IssueSource interface {
	Name() string
	ListItems(ctx context.Context) ([]WorkItemSpec, error)
}

// ItemRunner executes one work item in isolation. Implementations must not
// mutate item and must not retry.
type ItemRunner interface {
	Run(ctx context.Context, item WorkItem, timeout time.Duration) ExecutionResult
}

// ReportSink consumes a finished report.
type ReportSink interface {
	WriteReport(ctx context.Context, report *Report) error
}
