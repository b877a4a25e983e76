package knowledge

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportChunks(t *testing.T) {
	r := &types.Report{
		Summary:     "Quantum error correction has moved from theory to early hardware demonstrations.",
		KeyFindings: []string{"Surface codes dominate current experiments", "Logical error rates now fall with code distance"},
		Details: map[string]string{
			"Hardware":   "Superconducting platforms have shown below-threshold operation on small codes.\n\nTrapped ion systems trail in speed but lead in gate fidelity.",
			"Tiny":       "ok",
			"Challenges": "Decoding latency and qubit overhead remain the main barriers to scale.",
		},
		Sections: []string{"Hardware", "Challenges", "Tiny"},
	}

	chunks := ReportChunks(r)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix(chunks[0], "Summary:\n"))
	assert.True(t, strings.HasPrefix(chunks[1], "Key findings:\n"))
	assert.True(t, strings.HasPrefix(chunks[2], "Section: Hardware\n"))
	assert.Equal(t, "Trapped ion systems trail in speed but lead in gate fidelity.", chunks[3])
	assert.True(t, strings.HasPrefix(chunks[4], "Section: Challenges\n"))
	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(c), MinChunkLength)
		assert.NotContains(t, c, "Section: Tiny")
	}
}

func TestReportChunks_UnlistedSectionsSorted(t *testing.T) {
	body := strings.Repeat("detail ", 10)
	r := &types.Report{
		Summary: strings.Repeat("summary ", 10),
		Details: map[string]string{"Zeta": body, "Alpha": body},
	}
	chunks := ReportChunks(r)
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[1], "Section: Alpha"))
	assert.True(t, strings.HasPrefix(chunks[2], "Section: Zeta"))
}

func TestReportChunks_Nil(t *testing.T) {
	assert.Nil(t, ReportChunks(nil))
}

func TestTaskChunks(t *testing.T) {
	h := "Error correction overhead is falling quickly"
	task := &types.ResearchTask{
		ID:          uuid.New(),
		Description: "Assess progress in quantum error correction",
		Hypothesis:  &h,
		Outcome:     types.OutcomeApproved,
		Evidence: []types.Evidence{
			{Snippet: "Google reported a below-threshold surface code memory in 2024.", Source: "https://example.org/a", Origin: types.OriginWebSearch, Stance: types.StanceSupporting},
			{Snippet: "Irrelevant", Source: "https://example.org/b", Origin: types.OriginWebSearch, Excluded: true},
			{Snippet: "Reused knowledge", Source: "knowledge:x", Origin: types.OriginKnowledgeReuse},
		},
	}

	chunks := TaskChunks(task)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "Hypothesis: "+h)
	assert.Contains(t, chunks[1], "below-threshold")
	assert.Contains(t, chunks[1], "Source: https://example.org/a")

	task.Outcome = types.OutcomeExhausted
	assert.Empty(t, TaskChunks(task))
}
