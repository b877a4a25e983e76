package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/llm/llmtest"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/search/searchtest"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	enrichReply = "Quantum computing uses qubits to run algorithms that are intractable on classical machines. " +
		"Key aspects include hardware platforms, error correction and near-term applications."
	planReply       = `["Compare qubit hardware platforms", "Assess error correction progress", "Identify near-term applications"]`
	hypothesisReply = `{"hypothesis": "Superconducting platforms lead today"}`
	queriesReply    = `{"queries": ["qubit platform comparison"], "contradiction_query": "quantum advantage skepticism"}`
	scoresReply     = `{"scores": [{"index": 1, "relevance": 8, "credibility": 8, "stance": "supporting"}, {"index": 2, "relevance": 7, "credibility": 6}]}`
	approveReply    = `{"approved": true, "feedback": "thorough"}`
	rejectReply     = `{"approved": false, "feedback": "shallow", "gaps": ["needs primary sources"]}`
	reportReply     = `{
		"summary": "Quantum computing is progressing on several hardware fronts.",
		"key_findings": ["Superconducting qubits lead on scale", "Error correction remains the bottleneck"],
		"details": {"Hardware": "Superconducting and trapped ion systems dominate.", "Outlook": "Useful advantage is years away."},
		"sections": ["Hardware", "Outlook"]}`
)

type script struct {
	enrich, plan, queries, critic, reporter, editor llmtest.Responder
}

func reply(s string) llmtest.Responder {
	return func(string) (string, error) { return s, nil }
}

func defaultScript() script {
	return script{
		enrich:   reply(enrichReply),
		plan:     reply(planReply),
		queries:  reply(queriesReply),
		critic:   reply(approveReply),
		reporter: reply(reportReply),
		editor:   reply(approveReply),
	}
}

func (s script) client() *llmtest.Fake {
	return llmtest.New().
		OnFunc("idea enrichment expert", s.enrich).
		OnFunc("research planner", s.plan).
		On("research scientist", hypothesisReply).
		OnFunc("planning web searches", s.queries).
		On("evidence analyst", scoresReply).
		OnFunc("quality assurance expert", s.critic).
		OnFunc("research reporter", s.reporter).
		OnFunc("research editor", s.editor)
}

func searcher() *searchtest.Fake {
	return &searchtest.Fake{
		Results: map[string][]search.Result{
			"skepticism": {{Title: "Skeptic", URL: "https://arxiv.org/abs/2302.1", Snippet: "Claims of advantage rely on contrived benchmarks."}},
		},
		Default: []search.Result{
			{Title: "Survey", URL: "https://nature.com/articles/q1", Snippet: "Superconducting processors exceed 1,000 qubits."},
			{Title: "News", URL: "https://bbc.co.uk/news/q2", Snippet: "Trapped ion vendors report record fidelity."},
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) record(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxTaskAttempts = 2
	return cfg
}

func newTestOrchestrator(t *testing.T, s script, cfg Config, opts ...Option) (*Orchestrator, *tracker.Memory, *llmtest.Fake, *recorder) {
	t.Helper()
	tr := tracker.NewMemory()
	client := s.client()
	rec := &recorder{}
	opts = append([]Option{WithProgress(rec.record)}, opts...)
	return New(tr, client, searcher(), cfg, opts...), tr, client, rec
}

func submitAndAdvance(t *testing.T, o *Orchestrator, idea string) *types.Job {
	t.Helper()
	ctx := context.Background()
	job, err := o.Submit(ctx, idea, SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, o.Advance(ctx, job.ID))
	o.Wait()
	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	return final
}

// quantum computing idea runs to a completed report
func TestAdvance_CompletesJob(t *testing.T) {
	o, _, _, rec := newTestOrchestrator(t, defaultScript(), testConfig())

	job := submitAndAdvance(t, o, "quantum computing")

	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Equal(t, types.PhaseCompleted, job.Phase)
	assert.Equal(t, 100, job.ProgressPercent)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.Description)
	assert.Equal(t, enrichReply, *job.Description)

	require.NotNil(t, job.Report)
	assert.NotEmpty(t, job.Report.Summary)
	assert.NotEmpty(t, job.Report.KeyFindings)
	assert.LessOrEqual(t, len(job.Report.KeyFindings), 10)
	assert.Equal(t, []string{"Hardware", "Outlook"}, job.Report.Sections)
	assert.NotEmpty(t, job.Report.Provenance)
	require.NotNil(t, job.ReportReviewed)
	assert.True(t, *job.ReportReviewed)

	require.Len(t, job.Tasks, 3)
	for _, task := range job.Tasks {
		assert.Equal(t, types.OutcomeApproved, task.Outcome)
		assert.True(t, task.HasContradictionSearch())
		assert.True(t, job.Report.CitesTask(task.ID))
	}

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, types.StatusCompleted, events[len(events)-1].Status)
}

func TestAdvance_ProgressAndPhasesAreMonotonic(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()
	job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)

	type observation struct {
		status   types.Status
		progress int
	}
	var seen []observation
	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			snap, err := o.GetStatus(ctx, job.ID)
			if err == nil {
				seen = append(seen, observation{snap.Status, snap.ProgressPercent})
				if snap.Status.IsTerminal() {
					return
				}
			}
			select {
			case <-stop:
				return
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}()

	require.NoError(t, o.Advance(ctx, job.ID))
	close(stop)
	<-polled

	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	seen = append(seen, observation{final.Status, final.ProgressPercent})

	prev := observation{types.StatusPending, 0}
	for _, obs := range seen {
		assert.GreaterOrEqual(t, obs.progress, prev.progress)
		if obs.status != prev.status {
			assert.True(t, reachable(prev.status, obs.status), "illegal move %s -> %s", prev.status, obs.status)
		}
		prev = obs
	}
	assert.Equal(t, types.StatusCompleted, prev.status)
}

// reachable follows allowed edges; polling may skip intermediate statuses
func reachable(from, to types.Status) bool {
	order := []types.Status{
		types.StatusPending, types.StatusEnriching, types.StatusPlanning,
		types.StatusResearching, types.StatusReporting, types.StatusCompleted,
	}
	for i, s := range order {
		if s != from {
			continue
		}
		for _, next := range order[i+1:] {
			if next == to {
				return true
			}
		}
	}
	return to == types.StatusFailed && !from.IsTerminal()
}

func TestAdvance_EmittedPhaseEdgesAreAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxParallelTasks = 1
	o, _, _, rec := newTestOrchestrator(t, defaultScript(), cfg)
	submitAndAdvance(t, o, "quantum computing")

	prevProgress := 0
	prevStatus := types.StatusPending
	for _, e := range rec.snapshot() {
		assert.GreaterOrEqual(t, e.Progress, prevProgress, "progress regressed at %q", e.Message)
		prevProgress = e.Progress
		if e.Status != prevStatus {
			assert.True(t, types.CanTransition(prevStatus, e.Status), "illegal edge %s -> %s", prevStatus, e.Status)
			prevStatus = e.Status
		}
	}
	assert.Equal(t, types.StatusCompleted, prevStatus)
}

func TestAdvance_CompletedReportIsStable(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	job := submitAndAdvance(t, o, "quantum computing")

	first, err := json.Marshal(job.Report)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := o.GetStatus(context.Background(), job.ID)
		require.NoError(t, err)
		got, err := json.Marshal(again.Report)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(got))
	}

	require.NoError(t, o.Advance(context.Background(), job.ID), "advancing a completed job is a no-op")
}

// a planner that proposes too few tasks fails the job
func TestAdvance_InsufficientTasks(t *testing.T) {
	s := defaultScript()
	s.plan = reply(`["Only one task"]`)
	o, tr, client, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")

	assert.Equal(t, types.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "insufficient task count")
	assert.Empty(t, job.Tasks)
	assert.Nil(t, job.Report)
	assert.Zero(t, client.CallsMatching("research scientist"))

	_, total, err := tr.TaskProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAdvance_PlanTruncatedToMax(t *testing.T) {
	s := defaultScript()
	s.plan = reply(`["t1","t2","t3","t4","t5","t6","t7","t8","t9","t10","t11","t12"]`)
	o, _, _, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")
	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Len(t, job.Tasks, 10)
}

func TestAdvance_EnrichmentFailureFailsJob(t *testing.T) {
	s := defaultScript()
	s.enrich = llmtest.Fail(errors.New("503 unavailable"))
	o, _, _, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")
	assert.Equal(t, types.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "enriching failed")
}

// a task the critic keeps rejecting is left out of the report
func TestAdvance_ExhaustedTaskExcludedFromReport(t *testing.T) {
	s := defaultScript()
	s.critic = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Assess error correction progress") {
			return rejectReply, nil
		}
		return approveReply, nil
	}
	o, _, client, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")
	require.Equal(t, types.StatusCompleted, job.Status)

	var exhausted *types.ResearchTask
	for i := range job.Tasks {
		if job.Tasks[i].Outcome == types.OutcomeExhausted {
			exhausted = &job.Tasks[i]
		}
	}
	require.NotNil(t, exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.False(t, job.Report.CitesTask(exhausted.ID))

	for _, prompt := range client.Calls() {
		if strings.Contains(prompt, "research reporter") {
			assert.NotContains(t, prompt, "Assess error correction progress")
		}
	}
}

// every provider failing leaves nothing to report
func TestAdvance_AllCapabilitiesFail(t *testing.T) {
	tr := tracker.NewMemory()
	client := llmtest.New().
		On("idea enrichment expert", enrichReply).
		On("research planner", planReply).
		OnFunc("", llmtest.Fail(errors.New("rate limited")))
	o := New(tr, client, &searchtest.Fake{Err: errors.New("search down")}, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")

	assert.Equal(t, types.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "empty content")
	for _, task := range job.Tasks {
		assert.Equal(t, types.OutcomeExhausted, task.Outcome)
		assert.Equal(t, 2, task.Attempts)
		for _, c := range task.Critiques {
			assert.True(t, c.Synthetic)
		}
	}
}

func TestAdvance_SearchOutageExhaustsOneTask(t *testing.T) {
	s := defaultScript()
	s.queries = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Assess error correction progress") {
			return `{"queries": ["surface code outage"], "contradiction_query": "surface code outage critique"}`, nil
		}
		return queriesReply, nil
	}
	tr := tracker.NewMemory()
	client := s.client()
	sr := searcher()
	sr.Errors = map[string]error{"outage": errors.New("search quota exceeded")}
	o := New(tr, client, sr, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")

	require.Equal(t, types.StatusCompleted, job.Status)
	require.NotNil(t, job.Report)
	approved := 0
	for _, task := range job.Tasks {
		if task.Description == "Assess error correction progress" {
			assert.Equal(t, types.OutcomeExhausted, task.Outcome)
			assert.Equal(t, 2, task.Attempts)
			for _, c := range task.Critiques {
				assert.True(t, c.Synthetic)
			}
			assert.False(t, job.Report.CitesTask(task.ID))
			continue
		}
		assert.Equal(t, types.OutcomeApproved, task.Outcome)
		assert.True(t, job.Report.CitesTask(task.ID))
		approved++
	}
	assert.Equal(t, 2, approved)
}

func TestAdvance_KeyFindingsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxKeyFindings = 1
	o, _, client, _ := newTestOrchestrator(t, defaultScript(), cfg)

	job := submitAndAdvance(t, o, "quantum computing")

	require.Equal(t, types.StatusCompleted, job.Status)
	assert.Equal(t, []string{"Superconducting qubits lead on scale"}, job.Report.KeyFindings)
	for _, p := range client.Calls() {
		if strings.Contains(p, "research reporter") {
			assert.Contains(t, p, "1 to 1 short")
		}
	}
}

func TestAdvance_ReportExhaustedPolicy(t *testing.T) {
	tests := []struct {
		name           string
		policy         ReportPolicy
		expectedStatus types.Status
	}{
		{"complete unreviewed", ReportPolicyComplete, types.StatusCompleted},
		{"fail", ReportPolicyFail, types.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultScript()
			s.editor = reply(rejectReply)
			cfg := testConfig()
			cfg.ReportExhaustedPolicy = tt.policy
			o, _, client, _ := newTestOrchestrator(t, s, cfg)

			job := submitAndAdvance(t, o, "quantum computing")

			assert.Equal(t, tt.expectedStatus, job.Status)
			assert.Equal(t, cfg.MaxReportAttempts, client.CallsMatching("research editor"))
			assert.Equal(t, cfg.MaxReportAttempts, client.CallsMatching("research reporter"))
			if tt.policy == ReportPolicyComplete {
				require.NotNil(t, job.ReportReviewed)
				assert.False(t, *job.ReportReviewed)
				assert.NotNil(t, job.Report)
			} else {
				assert.Nil(t, job.Report)
				require.NotNil(t, job.Error)
				assert.Contains(t, *job.Error, "report critique budget exhausted")
			}
		})
	}
}

func TestAdvance_ReportRewriteCarriesFeedback(t *testing.T) {
	s := defaultScript()
	s.editor = llmtest.Sequence(rejectReply, approveReply)
	o, _, client, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")
	require.Equal(t, types.StatusCompleted, job.Status)
	assert.True(t, *job.ReportReviewed)

	var reporterPrompts []string
	for _, p := range client.Calls() {
		if strings.Contains(p, "research reporter") {
			reporterPrompts = append(reporterPrompts, p)
		}
	}
	require.Len(t, reporterPrompts, 2)
	assert.Contains(t, reporterPrompts[1], "needs primary sources")
}

func TestAdvance_DegenerateReportFails(t *testing.T) {
	s := defaultScript()
	s.reporter = reply(`{"summary": "", "key_findings": [], "details": {}}`)
	o, _, _, _ := newTestOrchestrator(t, s, testConfig())

	job := submitAndAdvance(t, o, "quantum computing")
	assert.Equal(t, types.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "empty content")
	assert.Nil(t, job.Report)
}

func TestAdvance_ResumesFromPersistedPhase(t *testing.T) {
	o, tr, client, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()

	job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)
	desc := "A stored description"
	_, err = tr.UpdateJob(ctx, job.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusEnriching)})
	require.NoError(t, err)
	_, err = tr.UpdateJob(ctx, job.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusPlanning), Description: &desc})
	require.NoError(t, err)

	require.NoError(t, o.Advance(ctx, job.ID))
	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Zero(t, client.CallsMatching("idea enrichment expert"))
	assert.Equal(t, desc, *final.Description)
}

func TestAdvance_ResumesTaskWithSpentBudget(t *testing.T) {
	o, tr, client, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()

	job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)
	desc := "A stored description"
	for _, update := range []types.JobUpdate{
		{Status: types.StatusPtr(types.StatusEnriching)},
		{Status: types.StatusPtr(types.StatusPlanning), Description: &desc},
		{Status: types.StatusPtr(types.StatusResearching)},
	} {
		_, err = tr.UpdateJob(ctx, job.ID, update)
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	tasks := []types.ResearchTask{
		types.NewTask(job.ID, 0, "Compare qubit hardware platforms", 2, now),
		types.NewTask(job.ID, 1, "Assess error correction progress", 2, now),
	}
	require.NoError(t, tr.CreateTasks(ctx, tasks))

	// process stopped after the last attempt started but before its verdict
	spent := 2
	running := types.TaskRunning
	_, err = tr.UpdateTask(ctx, tasks[0].ID, types.TaskUpdate{Status: &running, Attempts: &spent})
	require.NoError(t, err)

	require.NoError(t, o.Advance(ctx, job.ID))
	o.Wait()
	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, final.Status, "error: %v", final.Error)
	require.Len(t, final.Tasks, 2)
	assert.Equal(t, types.OutcomeExhausted, final.Tasks[0].Outcome)
	assert.Equal(t, 2, final.Tasks[0].Attempts)
	assert.Equal(t, types.OutcomeApproved, final.Tasks[1].Outcome)
	assert.False(t, final.Report.CitesTask(final.Tasks[0].ID))
	assert.Equal(t, 1, client.CallsMatching("quality assurance expert"), "no attempt beyond the budget")
}

func TestSubmit(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()

	job, err := o.Submit(ctx, "  quantum computing  ", SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "quantum computing", job.Idea)
	assert.Equal(t, types.StatusPending, job.Status)
	assert.Equal(t, types.PhaseQueued, job.Phase)
	assert.Zero(t, job.ProgressPercent)

	for _, idea := range []string{"", "   ", "abc", string(make([]byte, MaxIdeaLength+1))} {
		_, err := o.Submit(ctx, idea, SubmitOptions{})
		assert.ErrorIs(t, err, ErrInvalidIdea)
	}
}

func TestSubmit_Idempotent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()

	first, err := o.Submit(ctx, "quantum computing", SubmitOptions{IdempotencyKey: "req-1"})
	require.NoError(t, err)
	second, err := o.Submit(ctx, "quantum computing", SubmitOptions{IdempotencyKey: "req-1"})
	require.NoError(t, err)
	other, err := o.Submit(ctx, "quantum computing", SubmitOptions{IdempotencyKey: "req-2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
}

// countingScheduler records jobs without running them
type countingScheduler struct {
	mu sync.Mutex
	n  int
}

func (c *countingScheduler) Schedule(func(context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func TestSubmitAndStart_SchedulesOnce(t *testing.T) {
	sched := &countingScheduler{}
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig(), WithScheduler(sched))
	ctx := context.Background()

	first, err := o.SubmitAndStart(ctx, "quantum computing", SubmitOptions{IdempotencyKey: "req-1"})
	require.NoError(t, err)
	replay, err := o.SubmitAndStart(ctx, "quantum computing", SubmitOptions{IdempotencyKey: "req-1"})
	require.NoError(t, err)
	_, err = o.SubmitAndStart(ctx, "x", SubmitOptions{})
	require.ErrorIs(t, err, ErrInvalidIdea)

	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 1, sched.n)
}

func TestCancel_PendingJob(t *testing.T) {
	o, _, client, _ := newTestOrchestrator(t, defaultScript(), testConfig())
	ctx := context.Background()

	job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(ctx, job.ID))
	require.NoError(t, o.Advance(ctx, job.ID))

	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, "cancelled", *final.Error)
	assert.Empty(t, client.Calls())

	assert.ErrorIs(t, o.Cancel(ctx, job.ID), ErrAlreadyFinished)
}

func TestCancel_DuringResearch(t *testing.T) {
	var (
		o      *Orchestrator
		client *llmtest.Fake
		jobID  uuid.UUID
		once   sync.Once
	)
	s := defaultScript()
	s.critic = func(string) (string, error) {
		once.Do(func() {
			_ = o.Cancel(context.Background(), jobID)
		})
		return rejectReply, nil
	}
	cfg := testConfig()
	cfg.MaxParallelTasks = 1
	cfg.MaxTaskAttempts = 3
	o, _, client, _ = newTestOrchestrator(t, s, cfg)

	ctx := context.Background()
	job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)
	jobID = job.ID
	require.NoError(t, o.Advance(ctx, job.ID))

	final, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, "cancelled", *final.Error)
	assert.Nil(t, final.Report)
	assert.Equal(t, 1, client.CallsMatching("quality assurance expert"), "in-flight attempt finished, no new attempt started")
}

func TestIngestion(t *testing.T) {
	repo := knowledge.NewMemoryRepository()
	store := knowledge.NewVectorStore(repo, &llmtest.Embedder{Dim: 8}, nil)
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig(), WithKnowledge(store))

	job := submitAndAdvance(t, o, "quantum computing")
	require.Equal(t, types.StatusCompleted, job.Status)

	hits, err := store.Similar(context.Background(), "Superconducting and trapped ion systems dominate.", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, job.ID, h.JobID)
	}
	assert.Greater(t, repo.Len(), len(knowledge.ReportChunks(job.Report)), "task evidence ingested incrementally")
}

func TestIngestion_FailureDoesNotFailJob(t *testing.T) {
	store := knowledge.NewVectorStore(knowledge.NewMemoryRepository(), &llmtest.Embedder{Dim: 8, Err: errors.New("embedding quota")}, nil)
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig(), WithKnowledge(store))

	job := submitAndAdvance(t, o, "quantum computing")
	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Nil(t, job.Error)
}

func TestStart_RunsOnScheduler(t *testing.T) {
	sched := NewPoolScheduler(2, nil)
	o, _, _, _ := newTestOrchestrator(t, defaultScript(), testConfig(), WithScheduler(sched))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
		require.NoError(t, err)
		require.NoError(t, o.Start(ctx, job.ID))
		ids = append(ids, job.ID)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, sched.Shutdown(shutdownCtx))

	for _, id := range ids {
		job, err := o.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, job.Status)
	}
	assert.ErrorIs(t, o.Start(ctx, ids[0]), ErrSchedulerClosed)
}

func TestResume(t *testing.T) {
	sched := NewPoolScheduler(1, nil)
	o, tr, _, _ := newTestOrchestrator(t, defaultScript(), testConfig(), WithScheduler(sched))
	ctx := context.Background()

	pending, err := o.Submit(ctx, "quantum computing", SubmitOptions{})
	require.NoError(t, err)
	done, err := o.Submit(ctx, "already finished", SubmitOptions{})
	require.NoError(t, err)
	_, err = tr.UpdateJob(ctx, done.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusFailed)})
	require.NoError(t, err)

	n, err := o.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, sched.Shutdown(ctx))
	job, err := o.GetStatus(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Status)
}

func TestPoolScheduler_BoundsConcurrency(t *testing.T) {
	sched := NewPoolScheduler(2, nil)
	var running, peak atomic.Int32

	for i := 0; i < 6; i++ {
		require.NoError(t, sched.Schedule(func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	require.NoError(t, sched.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestParseReportPolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected ReportPolicy
		wantErr  bool
	}{
		{"", ReportPolicyComplete, false},
		{"complete", ReportPolicyComplete, false},
		{"FAIL", ReportPolicyFail, false},
		{"retry", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReportPolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPhaseError(t *testing.T) {
	err := &PhaseError{Phase: types.StatusPlanning, Err: errInsufficientTasks}
	assert.Equal(t, "planning failed: insufficient task count", err.Error())
	assert.ErrorIs(t, err, errInsufficientTasks)
}
