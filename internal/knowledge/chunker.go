package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/types"
)

// MinChunkLength drops fragments too short to be useful on their own.
const MinChunkLength = 50

// ReportChunks flattens a report into paragraph-sized chunks: the summary,
// the key findings, then one block per section in section order.
func ReportChunks(r *types.Report) []string {
	if r == nil {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Summary:\n%s\n\n", strings.TrimSpace(r.Summary))
	if len(r.KeyFindings) > 0 {
		sb.WriteString("Key findings:\n")
		for _, f := range r.KeyFindings {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(f))
		}
		sb.WriteString("\n")
	}
	for _, title := range sectionOrder(r) {
		fmt.Fprintf(&sb, "Section: %s\n%s\n\n", title, strings.TrimSpace(r.Details[title]))
	}

	return splitParagraphs(sb.String())
}

// TaskChunks turns an approved task into chunks: one framing block with
// the task and hypothesis, then one chunk per usable evidence item.
func TaskChunks(t *types.ResearchTask) []string {
	evidence := t.SynthesisEvidence()
	if len(evidence) == 0 {
		return nil
	}

	var texts []string
	head := "Research task: " + t.Description
	if t.Hypothesis != nil && *t.Hypothesis != "" {
		head += "\nHypothesis: " + *t.Hypothesis
	}
	texts = append(texts, head)

	for _, e := range evidence {
		if e.Origin == types.OriginKnowledgeReuse {
			continue // already stored
		}
		texts = append(texts, fmt.Sprintf("Finding (%s) for %q:\n%s\nSource: %s", e.Stance, t.Description, strings.TrimSpace(e.Snippet), e.Source))
	}
	return filterShort(texts)
}

func sectionOrder(r *types.Report) []string {
	seen := make(map[string]bool, len(r.Details))
	var order []string
	for _, s := range r.Sections {
		if _, ok := r.Details[s]; ok && !seen[s] {
			order = append(order, s)
			seen[s] = true
		}
	}
	var rest []string
	for k := range r.Details {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		out = append(out, strings.TrimSpace(p))
	}
	return filterShort(out)
}

func filterShort(texts []string) []string {
	var out []string
	for _, t := range texts {
		if len([]rune(strings.TrimSpace(t))) >= MinChunkLength {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out
}
