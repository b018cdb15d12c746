package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

func sampleReport(t *testing.T) *core.Report {
	t.Helper()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	r := core.NewReport("run-42")
	r.StartedAt = start
	r.FinishedAt = start.Add(90 * time.Second)

	done := func(id string, status core.ItemStatus, err error) *core.WorkItem {
		item := core.NewWorkItem(core.WorkItemSpec{ID: id})
		require.NoError(t, item.Transition(core.ItemStatusLocked, start))
		require.NoError(t, item.Transition(core.ItemStatusRunning, start))
		require.NoError(t, item.Finish(core.ExecutionResult{Status: status, Err: err}, start.Add(3*time.Second)))
		return item
	}

	r.Record(done("A", core.ItemStatusSucceeded, nil), "patched parser")
	skipped := core.NewWorkItem(core.WorkItemSpec{ID: "B"})
	require.NoError(t, skipped.Transition(core.ItemStatusSkipped, start))
	r.Record(skipped, "")
	r.Record(done("C|pipe", core.ItemStatusFailed, core.ErrExecution(core.CodeCrashExit, "exit status 2")), "panic: boom")
	r.Record(done("E", core.ItemStatusTimedOut, core.ErrTimeout("unit exceeded 2s")), "")
	return r
}

func TestRenderMarkdown(t *testing.T) {
	md, err := RenderMarkdown(sampleReport(t))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(md, "---\nrun_id: run-42\n"), md)
	assert.Contains(t, md, "succeeded: 1\n")
	assert.Contains(t, md, "timed_out: 1\n")
	assert.Contains(t, md, "duration: 1m 30s\n")
	assert.Contains(t, md, "# Sweep report run-42")
	assert.Contains(t, md, "4 items: 1 succeeded, 1 failed, 1 timed_out, 1 skipped")
	assert.Contains(t, md, `| C\|pipe | ❌ failed | 1 | 3.0s | CRASH_EXIT |`)
	assert.Contains(t, md, "| B | ⏭ skipped | 1 | - |  |")
	assert.Contains(t, md, "### C|pipe")
	assert.Contains(t, md, "panic: boom")
	assert.NotContains(t, md, "Aborted")

	// A-B-C-E order is preserved.
	assert.Less(t, strings.Index(md, "| A |"), strings.Index(md, "| B |"))
	assert.Less(t, strings.Index(md, "| B |"), strings.Index(md, "| E |"))
}

func TestRenderMarkdown_AbortedAndEmpty(t *testing.T) {
	r := core.NewReport("run-x")
	r.Error = "[store] LOCK_STORE_UNAVAILABLE: lock store create failed"
	md, err := RenderMarkdown(r)
	require.NoError(t, err)
	assert.Contains(t, md, "> **Aborted:**")
	assert.Contains(t, md, "_No items._")
	assert.Contains(t, md, "error: ")
	assert.Contains(t, md, "LOCK_STORE_UNAVAILABLE: lock store create failed")
}

func TestRenderMarkdown_TruncatesOutput(t *testing.T) {
	r := sampleReport(t)
	item := core.NewWorkItem(core.WorkItemSpec{ID: "noisy"})
	_ = item.Transition(core.ItemStatusSkipped, time.Now())
	r.Record(item, strings.Repeat("x", maxOutputExcerpt+500))

	md, err := RenderMarkdown(r)
	require.NoError(t, err)
	assert.Contains(t, md, "... (truncated)")
	assert.NotContains(t, md, strings.Repeat("x", maxOutputExcerpt+1))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTable(&buf, sampleReport(t)))
	out := strings.ToLower(buf.String())

	for _, want := range []string{"item", "status", "timed_out", "crash_exit", "4 items:"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	require.NoError(t, RenderTable(&buf, core.NewReport("empty")))
	assert.Equal(t, "No items processed\n", buf.String())
}

func TestWriter_WriteReport(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Config{Dir: dir, Formats: []string{FormatJSON, FormatMarkdown}}, nil)
	r := sampleReport(t)

	require.NoError(t, w.WriteReport(context.Background(), r))

	paths := w.Paths("run-42")
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "run-42", "report.json"), paths[0])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var decoded core.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-42", decoded.RunID)
	assert.Equal(t, core.ItemStatusTimedOut, decoded.Items["E"].Status)
	assert.Equal(t, 1, decoded.Counts[core.ItemStatusSkipped])
	assert.Equal(t, []string{"A", "B", "C|pipe", "E"}, decoded.Order)

	md, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Sweep report run-42")
}

func TestWriter_UnknownFormat(t *testing.T) {
	w := NewWriter(Config{Dir: t.TempDir(), Formats: []string{"pdf"}}, nil)
	err := w.WriteReport(context.Background(), core.NewReport("r"))
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidConfig, core.GetCode(err))
}

func TestWriter_SanitizesRunDir(t *testing.T) {
	w := NewWriter(Config{Dir: "reports"}, nil)
	assert.Equal(t, filepath.Join("reports", "run-..-etc"), w.RunDir("run/../etc"))
	assert.Equal(t, filepath.Join("reports", "run"), w.RunDir(".."))
}

func TestFrontmatter(t *testing.T) {
	fm := NewFrontmatter()
	empty, err := fm.Render()
	require.NoError(t, err)
	assert.Empty(t, empty)

	fm.Set("b", "yes")
	fm.Set("a", []string{"x", "y"})
	fm.Set("b", "no")
	out, err := fm.Render()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "---\nb: "), out)
	assert.True(t, strings.HasSuffix(out, "---\n\n"), out)
	assert.Less(t, strings.Index(out, "b: "), strings.Index(out, "a:"))
	assert.Contains(t, out, "- x")
	assert.NotContains(t, out, "yes")
}
