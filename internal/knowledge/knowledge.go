// Package knowledge derives ranked, sourced memory entries from completed
// steps.
package knowledge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// DefaultRelevance is used when a step result carries no confidence.
const DefaultRelevance = 0.7

// EntryID returns the knowledge identity for a step.
func EntryID(stepID string) string {
	return "knowledge_" + stepID
}

// Extract builds one entry per step that has a result, in step order.
// Steps without a result are skipped. The output depends only on its
// inputs, so calling it twice with the same arguments yields equal entries.
func Extract(sessionID string, steps []*models.PlanStep, at time.Time) []models.KnowledgeEntry {
	entries := make([]models.KnowledgeEntry, 0, len(steps))
	for _, step := range steps {
		if step == nil || step.Result == nil {
			continue
		}
		relevance := step.Result.Confidence
		if relevance <= 0 {
			relevance = DefaultRelevance
		}
		if relevance > 1 {
			relevance = 1
		}
		entries = append(entries, models.KnowledgeEntry{
			ID:        EntryID(step.ID),
			SessionID: sessionID,
			Content:   FormatContent(step),
			Sources:   append([]models.Source{}, step.Result.Sources...),
			Timestamp: at,
			Relevance: relevance,
		})
	}
	return entries
}

// FormatContent renders a step and its result as a markdown block: the
// title, the description, the findings and a numbered source list.
func FormatContent(step *models.PlanStep) string {
	if step.Result == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n%s\n\n", step.Title, step.Description)
	b.WriteString(renderFindings(step.Result))
	b.WriteString("\n\n")

	if len(step.Result.Sources) > 0 {
		b.WriteString("Sources:\n")
		for i, src := range step.Result.Sources {
			fmt.Fprintf(&b, "%d. %s", i+1, src.Title)
			if src.URL != "" {
				fmt.Fprintf(&b, " - %s", src.URL)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderFindings prefers a summary, then a structured dump, then raw text.
func renderFindings(r *models.StepResult) string {
	if s, ok := r.Findings.Summary(); ok {
		return s
	}
	switch r.Findings.Kind {
	case models.FindingsObject:
		if len(r.Findings.Fields) == 0 && strings.TrimSpace(r.Summary) != "" {
			return r.Summary
		}
		dump, err := json.MarshalIndent(r.Findings.Fields, "", "  ")
		if err != nil {
			return "Findings: " + r.Findings.Render()
		}
		return "Findings: " + string(dump)
	case models.FindingsText:
		return r.Findings.Text
	default:
		return r.Summary
	}
}

// Rank returns entries ordered by relevance, highest first. Ties keep
// their original order.
func Rank(entries []models.KnowledgeEntry) []models.KnowledgeEntry {
	out := append([]models.KnowledgeEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}
