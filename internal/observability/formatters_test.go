package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/types"
)

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintProgress(orchestrator.ProgressEvent{
		JobID:    uuid.New(),
		Status:   types.StatusResearching,
		Phase:    types.PhaseResearching,
		Progress: 55,
		Message:  "task 2/4 approved",
	})

	out := buf.String()
	assert.Contains(t, out, "[ 55%]")
	assert.Contains(t, out, "researching")
	assert.Contains(t, out, "task 2/4 approved")
	assert.NotContains(t, out, "\x1b[", "no color codes when not a terminal")
}

func TestPrintJob(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	now := time.Now()
	job := types.NewJob("quantum computing", now)
	approved := types.NewTask(job.ID, 0, "Hardware", 3, now)
	approved.Outcome = types.OutcomeApproved
	approved.Attempts = 1
	exhausted := types.NewTask(job.ID, 1, "Algorithms", 3, now)
	exhausted.Outcome = types.OutcomeExhausted
	exhausted.Attempts = 3
	job.Tasks = []types.ResearchTask{approved, exhausted}

	p.PrintJob(job)
	out := buf.String()

	assert.Contains(t, out, "RESEARCH JOB")
	assert.Contains(t, out, job.ID.String())
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "✓ Hardware")
	assert.Contains(t, out, "✗ Algorithms")
	assert.Contains(t, out, "(3/3 attempts)")
}

func TestPrintJob_Failed(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	msg := "cancelled"
	job := types.NewJob("quantum computing", time.Now())
	job.Status = types.StatusFailed
	job.Error = &msg

	p.PrintJob(job)

	assert.Contains(t, buf.String(), "Error:")
	assert.Contains(t, buf.String(), "cancelled")
}

func TestPrintJob_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintJob(nil)
	p.PrintReport(nil, true)
	assert.Empty(t, buf.String())
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	report := &types.Report{
		Summary:     "Progress is real.",
		KeyFindings: []string{"Error rates fall", "Costs stay high"},
		Details: map[string]string{
			"Outlook":  "Cautious.",
			"Hardware": "Qubits grow.",
		},
	}
	for i := 0; i < 7; i++ {
		report.Provenance = append(report.Provenance, types.Citation{Source: "https://example.com/" + string(rune('a'+i))})
	}

	p.PrintReport(report, true)
	out := buf.String()

	assert.Contains(t, out, "RESEARCH REPORT")
	assert.Contains(t, out, "• Error rates fall")
	assert.Less(t, strings.Index(out, "Hardware"), strings.Index(out, "Outlook"), "sections sorted by title")
	assert.Contains(t, out, "https://example.com/a")
	assert.NotContains(t, out, "https://example.com/g")
	assert.Contains(t, out, "and 2 more")
	assert.NotContains(t, out, "Unreviewed")
}

func TestPrintReport_SectionOrderAndUnreviewed(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintReport(&types.Report{
		Summary:     "s",
		KeyFindings: []string{"f"},
		Details:     map[string]string{"Zeta": "z", "Alpha": "a"},
		Sections:    []string{"Zeta", "Alpha"},
	}, false)
	out := buf.String()

	assert.Contains(t, out, "Unreviewed")
	assert.Less(t, strings.Index(out, "Zeta"), strings.Index(out, "Alpha"))
}

func TestPrintJobList(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintJobList(nil)
	assert.Contains(t, buf.String(), "no jobs")

	buf.Reset()
	job := types.NewJob(strings.Repeat("long idea ", 10), time.Now())
	p.PrintJobList([]types.Job{*job})
	assert.Contains(t, buf.String(), job.ID.String())
	assert.Contains(t, buf.String(), "...")
}
