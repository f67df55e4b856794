package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"Mother-Agent/internal/agent"
	"Mother-Agent/internal/task"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	okStyle      = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed)
	warnStyle    = color.New(color.FgYellow, color.Bold)
	dimStyle     = color.New(color.FgHiBlack)
	sessionStyle = color.New(color.FgMagenta)
)

func renderResponse(w io.Writer, resp *agent.Response) {
	if resp == nil {
		return
	}
	if strings.TrimSpace(resp.Text) != "" {
		fmt.Fprintln(w, resp.Text)
	}
	if len(resp.ToolCalls) > 0 {
		fmt.Fprintln(w)
		for _, call := range resp.ToolCalls {
			renderToolCall(w, call)
		}
	}
	for _, e := range resp.Errors {
		fmt.Fprintln(w, errorStyle.Sprintf("✗ %s", e.ForUser()))
	}
	if p := resp.PendingConfirmation; p != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, warnStyle.Sprintf("⚠ confirmation required: %s", p.Description))
		fmt.Fprintln(w, dimStyle.Sprintf("  id %s", p.ID))
	}
	fmt.Fprintln(w, sessionStyle.Sprintf("session %s", resp.SessionID))
}

func renderToolCall(w io.Writer, call agent.ToolCallRecord) {
	mark := okStyle.Sprint("✓")
	if !call.Success {
		mark = errorStyle.Sprint("✗")
	}
	label := call.Tool
	if call.Step > 0 {
		label = fmt.Sprintf("step %d %s", call.Step, call.Tool)
	}
	line := fmt.Sprintf("%s %s %s", mark, label, dimStyle.Sprintf("(%s)", call.Duration.Round(time.Millisecond)))
	if call.Error != "" {
		line += " " + errorStyle.Sprint(call.Error)
	}
	fmt.Fprintln(w, line)
}

func renderJob(w io.Writer, job *task.Job) {
	status := string(job.Status)
	switch job.Status {
	case task.StatusSucceeded:
		status = okStyle.Sprint(status)
	case task.StatusFailed:
		status = errorStyle.Sprint(status)
	default:
		status = warnStyle.Sprint(status)
	}
	fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("job"), job.ID)
	fmt.Fprintf(w, "  kind:     %s\n", job.Kind)
	fmt.Fprintf(w, "  session:  %s\n", job.SessionID)
	fmt.Fprintf(w, "  status:   %s\n", status)
	fmt.Fprintf(w, "  attempts: %d/%d\n", job.Attempts, job.MaxRetries)
	if job.LastError != "" {
		fmt.Fprintf(w, "  error:    %s %s\n", errorStyle.Sprint(job.ErrorCode), job.LastError)
	}
	if r := job.Result; r != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, r.Text)
		for _, call := range r.ToolCalls {
			renderToolCall(w, call)
		}
		for _, ae := range r.Errors {
			fmt.Fprintln(w, errorStyle.Sprintf("✗ %s", ae.Category))
		}
		if p := r.PendingConfirmation; p != nil {
			fmt.Fprintln(w, warnStyle.Sprintf("⚠ confirmation required: %s", p.Description))
			fmt.Fprintln(w, dimStyle.Sprintf("  confirm with: motherd submit --kind confirm --session %s %s", job.SessionID, p.ID))
		}
		if p := r.PendingPlan; p != nil {
			fmt.Fprintln(w, dimStyle.Sprintf("  approve with: motherd submit --kind execute_plan --session %s %s", job.SessionID, p.ID))
		}
	}
}

func renderJobList(w io.Writer, jobs []*task.Job, stats task.JobStats) {
	fmt.Fprintln(w, headerStyle.Sprintf("%d jobs", stats.Total)+dimStyle.Sprintf("  pending %d  running %d  succeeded %d  failed %d",
		stats.Pending, stats.Running, stats.Succeeded, stats.Failed))
	for _, job := range jobs {
		mark := warnStyle.Sprint("…")
		switch job.Status {
		case task.StatusSucceeded:
			mark = okStyle.Sprint("✓")
		case task.StatusFailed:
			mark = errorStyle.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s %-12s %s %s\n", mark, job.ID, job.Kind, dimStyle.Sprint(job.SessionID), truncate(job.Input, 60))
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
