// Package observability provides formatted terminal output for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Theme holds the color scheme for CLI output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Printer handles formatted output. It is safe for concurrent use, so it
// can be handed to the orchestrator as a progress callback.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	theme Theme

	status  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	hint    lipgloss.Style
	title   lipgloss.Style
	box     lipgloss.Style
}

// NewPrinter creates a new Printer that writes to the given writer. Colors
// are only emitted when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	t := defaultTheme
	return &Printer{
		out:     out,
		theme:   t,
		status:  r.NewStyle().Foreground(t.Status),
		success: r.NewStyle().Foreground(t.Success).Bold(true),
		warning: r.NewStyle().Foreground(t.Warning).Bold(true),
		failure: r.NewStyle().Foreground(t.Error).Bold(true),
		hint:    r.NewStyle().Foreground(t.Hint).Italic(true),
		title:   r.NewStyle().Bold(true),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(boxWidth),
	}
}

// printBox prints a bordered box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	body := p.title.Render(title) + "\n\n" + content
	fmt.Fprintln(p.out, p.box.Render(body))
}

func (p *Printer) statusStyle(status types.Status) lipgloss.Style {
	switch status {
	case types.StatusCompleted:
		return p.success
	case types.StatusFailed:
		return p.failure
	default:
		return p.status
	}
}

// PrintProgress writes one progress line. Its signature matches
// orchestrator.ProgressCallback.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event orchestrator.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("[%3d%%] %-12s", event.Progress, event.Phase)
	fmt.Fprintf(p.out, "%s %s\n", p.statusStyle(event.Status).Render(line), event.Message)
}

// PrintJob outputs a job status summary with its tasks.
func (p *Printer) PrintJob(job *types.Job) {
	if job == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job:       %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Idea:      %s\n", truncate(job.Idea, boxWidth-15)))
	sb.WriteString(fmt.Sprintf("Status:    %s\n", p.statusStyle(job.Status).Render(string(job.Status))))
	sb.WriteString(fmt.Sprintf("Progress:  %d%%\n", job.ProgressPercent))
	if job.Error != nil {
		sb.WriteString(fmt.Sprintf("Error:     %s\n", p.failure.Render(*job.Error)))
	}

	if len(job.Tasks) > 0 {
		sb.WriteString("\nTasks:\n")
		for i := range job.Tasks {
			sb.WriteString(p.taskLine(&job.Tasks[i]))
			sb.WriteString("\n")
		}
	}

	p.printBox("RESEARCH JOB", strings.TrimSuffix(sb.String(), "\n"))
}

func (p *Printer) taskLine(task *types.ResearchTask) string {
	var marker string
	switch task.Outcome {
	case types.OutcomeApproved:
		marker = p.success.Render("✓")
	case types.OutcomeExhausted:
		marker = p.warning.Render("✗")
	default:
		marker = p.hint.Render("…")
	}
	return fmt.Sprintf("  %s %s %s", marker, truncate(task.Description, boxWidth-24),
		p.hint.Render(fmt.Sprintf("(%d/%d attempts)", task.Attempts, task.MaxAttempts)))
}

// PrintReport outputs a finished report. reviewed=false adds a notice
// that the report critique budget ran out.
func (p *Printer) PrintReport(report *types.Report, reviewed bool) {
	if report == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	if !reviewed {
		sb.WriteString(p.warning.Render("Unreviewed: the report did not pass final review."))
		sb.WriteString("\n\n")
	}
	sb.WriteString(report.Summary)
	sb.WriteString("\n\n")

	sb.WriteString(p.title.Render("Key findings"))
	sb.WriteString("\n")
	for _, finding := range report.KeyFindings {
		sb.WriteString(fmt.Sprintf("  • %s\n", finding))
	}

	// Details map has no order of its own
	titles := report.Sections
	if len(titles) == 0 {
		for title := range report.Details {
			titles = append(titles, title)
		}
		sort.Strings(titles)
	}
	for _, title := range titles {
		body, ok := report.Details[title]
		if !ok {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(p.title.Render(title))
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n")
	}

	if n := len(report.Provenance); n > 0 {
		shown := min(n, maxItemsToShow)
		sb.WriteString("\n")
		sb.WriteString(p.title.Render("Sources"))
		sb.WriteString("\n")
		for _, c := range report.Provenance[:shown] {
			sb.WriteString(fmt.Sprintf("  - %s\n", c.Source))
		}
		if n > shown {
			sb.WriteString(p.hint.Render(fmt.Sprintf("  ... and %d more", n-shown)))
			sb.WriteString("\n")
		}
	}

	p.printBox("RESEARCH REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintJobList outputs one line per job.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintJobList(jobs []types.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(jobs) == 0 {
		fmt.Fprintln(p.out, p.hint.Render("no jobs"))
		return
	}
	for _, job := range jobs {
		status := p.statusStyle(job.Status).Render(fmt.Sprintf("%-11s", job.Status))
		fmt.Fprintf(p.out, "%s  %s %3d%%  %s\n", job.ID, status, job.ProgressPercent, truncate(job.Idea, 40))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
