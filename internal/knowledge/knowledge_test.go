package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func completed(id string, findings models.Findings, confidence float64, sources ...models.Source) *models.PlanStep {
	return &models.PlanStep{
		ID:          id,
		Title:       "Title " + id,
		Description: "Description " + id,
		Status:      models.StatusCompleted,
		Result: &models.StepResult{
			Findings:   findings,
			Sources:    sources,
			Confidence: confidence,
		},
	}
}

func TestExtract(t *testing.T) {
	steps := []*models.PlanStep{
		completed("1", models.ObjectFindings(map[string]any{"summary": "Paris is the capital."}), 0.9,
			models.Source{Title: "Wikipedia", URL: "https://en.wikipedia.org/wiki/Paris"},
			models.Source{Title: "Atlas"}),
		{ID: "2", Title: "Failed", Status: models.StatusFailed},
		completed("3", models.TextFindings("raw answer"), 0),
	}

	entries := Extract("sess-1", steps, at)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "knowledge_1", first.ID)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, at, first.Timestamp)
	assert.InDelta(t, 0.9, first.Relevance, 1e-9)
	assert.Equal(t,
		"**Title 1**\n\nDescription 1\n\nParis is the capital.\n\nSources:\n1. Wikipedia - https://en.wikipedia.org/wiki/Paris\n2. Atlas\n",
		first.Content)
	assert.Len(t, first.Sources, 2)

	second := entries[1]
	assert.Equal(t, "knowledge_3", second.ID)
	assert.InDelta(t, DefaultRelevance, second.Relevance, 1e-9)
	assert.Equal(t, "**Title 3**\n\nDescription 3\n\nraw answer\n\n", second.Content)
	assert.NotNil(t, second.Sources)
}

func TestExtractStructuredDump(t *testing.T) {
	step := completed("1", models.ObjectFindings(map[string]any{"population": 2100000, "city": "Paris"}), 0.8)
	content := FormatContent(step)
	assert.Contains(t, content, "Findings: {\n  \"city\": \"Paris\",\n  \"population\": 2100000\n}")
}

func TestExtractFallsBackToTopLevelSummary(t *testing.T) {
	step := completed("1", models.ObjectFindings(nil), 0.8)
	step.Result.Summary = "Short answer"
	assert.Contains(t, FormatContent(step), "\n\nShort answer\n\n")
}

func TestExtractIsIdempotent(t *testing.T) {
	steps := []*models.PlanStep{
		completed("1", models.ObjectFindings(map[string]any{"b": 1, "a": []any{"x"}}), 0.6),
		completed("2", models.TextFindings("t"), 0.4),
	}
	assert.Equal(t, Extract("s", steps, at), Extract("s", steps, at))
}

func TestExtractSkipsStepsWithoutResult(t *testing.T) {
	steps := []*models.PlanStep{
		{ID: "1", Status: models.StatusFailed},
		{ID: "2", Status: models.StatusPending},
	}
	assert.Empty(t, Extract("s", steps, at))
}

func TestRank(t *testing.T) {
	entries := []models.KnowledgeEntry{
		{ID: "a", Relevance: 0.5},
		{ID: "b", Relevance: 0.9},
		{ID: "c", Relevance: 0.5},
	}
	ranked := Rank(entries)
	assert.Equal(t, []string{"b", "a", "c"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	assert.Equal(t, "a", entries[0].ID, "input is not reordered")
}
