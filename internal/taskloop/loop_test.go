package taskloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/llm/llmtest"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/search/searchtest"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hypothesisReply = `{"hypothesis": "Superconducting qubits lead on qubit count"}`
	queriesReply    = `{"queries": ["superconducting qubit count 2024"], "contradiction_query": "superconducting qubits overhyped"}`
	scoresReply     = `{"scores": [
		{"index": 1, "relevance": 8, "credibility": 7, "stance": "supporting"},
		{"index": 2, "relevance": 6, "credibility": 6, "stance": "neutral"},
		{"index": 3, "relevance": 2, "credibility": 5, "stance": "neutral"}]}`
	approveReply = `{"approved": true, "feedback": "complete and well sourced"}`
	rejectReply  = `{"approved": false, "feedback": "too shallow", "gaps": ["no peer-reviewed sources"]}`
)

func scriptedClient(critique llmtest.Responder) *llmtest.Fake {
	return llmtest.New().
		On("research scientist", hypothesisReply).
		On("planning web searches", queriesReply).
		On("evidence analyst", scoresReply).
		OnFunc("quality assurance expert", critique)
}

func fixed(reply string) llmtest.Responder {
	return func(string) (string, error) { return reply, nil }
}

func webResults() *searchtest.Fake {
	return &searchtest.Fake{
		Results: map[string][]search.Result{
			"overhyped": {{Title: "Critique", URL: "https://arxiv.org/abs/2401.0001", Snippet: "Error rates undercut the headline qubit counts."}},
		},
		Default: []search.Result{
			{Title: "IBM roadmap", URL: "https://example.com/ibm", Snippet: "IBM reported a 1,121 qubit processor."},
			{Title: "Forum", URL: "https://reddit.com/r/qc/1", Snippet: "Someone says ions are better."},
		},
	}
}

func newTask(t *testing.T, tr *tracker.Memory, maxAttempts int) *types.ResearchTask {
	t.Helper()
	ctx := context.Background()
	job := types.NewJob("quantum computing", time.Now())
	require.NoError(t, tr.CreateJob(ctx, job))
	task := types.NewTask(job.ID, 0, "Compare qubit counts across hardware vendors", maxAttempts, time.Now())
	require.NoError(t, tr.CreateTasks(ctx, []types.ResearchTask{task}))
	return &task
}

func TestDone(t *testing.T) {
	tests := []struct {
		name     string
		task     types.ResearchTask
		expected bool
	}{
		{"fresh task", types.ResearchTask{MaxAttempts: 3}, false},
		{"rejected with attempts left", types.ResearchTask{Attempts: 1, MaxAttempts: 3, Outcome: types.OutcomeRejected}, false},
		{"approved", types.ResearchTask{Attempts: 1, MaxAttempts: 3, Outcome: types.OutcomeApproved}, true},
		{"attempts spent", types.ResearchTask{Attempts: 3, MaxAttempts: 3, Outcome: types.OutcomeRejected}, true},
		{"exhausted", types.ResearchTask{Attempts: 2, MaxAttempts: 2, Outcome: types.OutcomeExhausted}, true},
		{"zero budget", types.ResearchTask{MaxAttempts: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Done(&tt.task))
		})
	}
}

func TestRun_ApprovedFirstAttempt(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 3)
	searcher := webResults()
	loop := New(tr, scriptedClient(fixed(approveReply)), searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "Quantum computing hardware landscape", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeApproved, got.Outcome)
	assert.Equal(t, types.TaskTerminal, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Hypothesis)
	assert.Equal(t, "Superconducting qubits lead on qubit count", *got.Hypothesis)
	require.Len(t, got.Critiques, 1)
	assert.True(t, got.Critiques[0].Approved())

	assert.True(t, got.HasContradictionSearch())
	for _, e := range got.Evidence {
		assert.Equal(t, types.OriginWebSearch, e.Origin)
		assert.Equal(t, 1, e.Attempt)
		assert.NotEqual(t, uuid.Nil, e.ID)
	}
	assert.Equal(t, []string{"superconducting qubit count 2024", "superconducting qubits overhyped"}, searcher.Queries())
}

func TestRun_ContradictionSearchAlwaysRuns(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 2)
	searcher := webResults()
	loop := New(tr, scriptedClient(fixed(approveReply)), searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	var contradicting []types.Evidence
	for _, e := range got.Evidence {
		if e.Stance == types.StanceContradicting {
			contradicting = append(contradicting, e)
		}
	}
	require.Len(t, contradicting, 1)
	assert.Equal(t, "https://arxiv.org/abs/2401.0001", contradicting[0].Source)
}

func TestRun_LowRelevanceIsExcluded(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 1)
	searcher := &searchtest.Fake{Default: []search.Result{
		{URL: "https://a.example/1", Snippet: "one"},
		{URL: "https://a.example/2", Snippet: "two"},
		{URL: "https://a.example/3", Snippet: "three"},
	}}
	loop := New(tr, scriptedClient(fixed(approveReply)), searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	excluded := map[string]bool{}
	for _, e := range got.Evidence {
		if e.Stance != types.StanceContradicting {
			excluded[e.Source] = e.Excluded
		}
	}
	assert.Equal(t, map[string]bool{
		"https://a.example/1": false,
		"https://a.example/2": false,
		"https://a.example/3": true,
	}, excluded)
}

// a critic that never approves spends the budget exactly
func TestRun_AlwaysRejectedIsExhausted(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 2)
	client := scriptedClient(fixed(rejectReply))
	loop := New(tr, client, webResults(), DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeExhausted, got.Outcome)
	assert.Equal(t, 2, got.Attempts)
	require.Len(t, got.Critiques, 2)
	for i, c := range got.Critiques {
		assert.Equal(t, types.VerdictRejected, c.Verdict)
		assert.Equal(t, i+1, c.Attempt)
		assert.False(t, c.Feedback.IsEmpty())
	}
	assert.Empty(t, got.SynthesisEvidence())
	assert.Equal(t, 2, client.CallsMatching("quality assurance expert"))
}

func TestRun_RetryCarriesFeedback(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 3)
	client := scriptedClient(llmtest.Sequence(rejectReply, approveReply))
	loop := New(tr, client, webResults(), DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeApproved, got.Outcome)
	assert.Equal(t, 2, got.Attempts)

	var hypothesisPrompts []string
	for _, c := range client.Calls() {
		if strings.Contains(c, "research scientist") {
			hypothesisPrompts = append(hypothesisPrompts, c)
		}
	}
	require.Len(t, hypothesisPrompts, 2)
	assert.NotContains(t, hypothesisPrompts[0], "PREVIOUS FEEDBACK")
	assert.Contains(t, hypothesisPrompts[1], "PREVIOUS FEEDBACK (must be addressed)")
	assert.Contains(t, hypothesisPrompts[1], "no peer-reviewed sources")
}

func TestRun_ApprovalWithoutOpposingEvidenceIsRejected(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 2)
	searcher := &searchtest.Fake{
		Results: map[string][]search.Result{"overhyped": {}},
		Default: []search.Result{{URL: "https://example.com/a", Snippet: "support"}},
	}
	loop := New(tr, scriptedClient(fixed(approveReply)), searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeExhausted, got.Outcome)
	assert.False(t, got.HasContradictionSearch())
	for _, c := range got.Critiques {
		assert.Equal(t, []string{NoContradictionGap}, c.Feedback.Gaps)
	}
}

// every capability fails and the loop still terminates
func TestRun_ProviderFailureRecordsSyntheticCritique(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 3)
	client := llmtest.New(llmtest.Rule{Reply: llmtest.Fail(errors.New("503 service unavailable"))})
	searcher := &searchtest.Fake{Err: errors.New("quota exceeded")}
	loop := New(tr, client, searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeExhausted, got.Outcome)
	assert.Equal(t, 3, got.Attempts)
	require.Len(t, got.Critiques, 3)
	for _, c := range got.Critiques {
		assert.True(t, c.Synthetic)
		assert.Equal(t, []string{types.ProviderUnavailableFeedback}, c.Feedback.Gaps)
		assert.Contains(t, c.Rationale, "503 service unavailable")
	}
	assert.Empty(t, searcher.Queries())
}

func TestRun_SearchFailureAbandonsAttempt(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 1)
	searcher := &searchtest.Fake{Err: errors.New("quota exceeded")}
	client := scriptedClient(fixed(approveReply))
	loop := New(tr, client, searcher, DefaultConfig())

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeExhausted, got.Outcome)
	assert.True(t, got.Critiques[0].Synthetic)
	assert.Zero(t, client.CallsMatching("quality assurance expert"))
}

type fixedStore struct {
	chunks []types.ScoredChunk
	err    error
}

func (s fixedStore) Similar(context.Context, string, int) ([]types.ScoredChunk, error) {
	return s.chunks, s.err
}

func (s fixedStore) Ingest(context.Context, uuid.UUID, []string) error { return nil }

// orderSearcher records whether knowledge evidence was already stored when
// the first web search ran
type orderSearcher struct {
	search.Searcher
	tracker tracker.Tracker
	taskID  uuid.UUID

	once           sync.Once
	reuseBeforeWeb bool
}

func (s *orderSearcher) Search(ctx context.Context, q string, d search.Depth) ([]search.Result, error) {
	s.once.Do(func() {
		task, err := s.tracker.ReadTask(ctx, s.taskID)
		if err != nil {
			return
		}
		for _, e := range task.Evidence {
			if e.Origin == types.OriginKnowledgeReuse {
				s.reuseBeforeWeb = true
			}
		}
	})
	return s.Searcher.Search(ctx, q, d)
}

// relevant stored knowledge is recorded before web search
func TestRun_KnowledgeReuseBeforeWebSearch(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 2)
	store := fixedStore{chunks: []types.ScoredChunk{
		{KnowledgeChunk: types.KnowledgeChunk{ID: uuid.New(), Content: "Trapped ion systems trail in speed but lead in gate fidelity."}, Similarity: 0.91},
		{KnowledgeChunk: types.KnowledgeChunk{ID: uuid.New(), Content: "Unrelated note about photonics supply chains."}, Similarity: 0.40},
	}}
	searcher := &orderSearcher{Searcher: webResults(), tracker: tr, taskID: task.ID}
	loop := New(tr, scriptedClient(fixed(approveReply)), searcher, DefaultConfig(), WithKnowledge(store))

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)

	assert.True(t, searcher.reuseBeforeWeb)

	var reused []types.Evidence
	for _, e := range got.Evidence {
		if e.Origin == types.OriginKnowledgeReuse {
			reused = append(reused, e)
		}
	}
	require.Len(t, reused, 1)
	assert.Equal(t, types.KnowledgeSource(store.chunks[0].ID), reused[0].Source)
	assert.InDelta(t, 9.1, reused[0].Relevance, 1e-9)
	assert.False(t, reused[0].Excluded)
}

func TestRun_KnowledgeFailureSkipsReuse(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 1)
	loop := New(tr, scriptedClient(fixed(approveReply)), webResults(), DefaultConfig(),
		WithKnowledge(fixedStore{err: errors.New("connection refused")}))

	got, err := loop.Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApproved, got.Outcome)
}

func TestRun_Cancelled(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 3)
	client := scriptedClient(fixed(rejectReply))
	loop := New(tr, client, webResults(), DefaultConfig())

	calls := 0
	cancel := func(context.Context) (bool, error) {
		calls++
		return calls > 1, nil
	}

	got, err := loop.Run(context.Background(), "desc", task, cancel)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, types.OutcomeRejected, got.Outcome)
}

func TestRun_AlreadyTerminal(t *testing.T) {
	tr := tracker.NewMemory()
	task := newTask(t, tr, 2)
	approved := types.OutcomeApproved
	_, err := tr.UpdateTask(context.Background(), task.ID, types.TaskUpdate{Outcome: &approved})
	require.NoError(t, err)

	client := scriptedClient(fixed(rejectReply))
	got, err := New(tr, client, webResults(), DefaultConfig()).Run(context.Background(), "desc", task, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApproved, got.Outcome)
	assert.Empty(t, client.Calls())
}

func TestRun_MissingTask(t *testing.T) {
	tr := tracker.NewMemory()
	task := types.NewTask(uuid.New(), 0, "ghost", 2, time.Now())

	_, err := New(tr, scriptedClient(fixed(approveReply)), webResults(), DefaultConfig()).Run(context.Background(), "desc", &task, nil)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	var nf *tracker.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRun_AttemptsNeverExceedMax(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 4} {
		tr := tracker.NewMemory()
		task := newTask(t, tr, maxAttempts)
		got, err := New(tr, scriptedClient(fixed(rejectReply)), webResults(), DefaultConfig()).Run(context.Background(), "desc", task, nil)
		require.NoError(t, err)
		assert.Equal(t, maxAttempts, got.Attempts)
		assert.LessOrEqual(t, got.Attempts, got.MaxAttempts)
		assert.Len(t, got.Critiques, maxAttempts)
	}
}
