package executor

import (
	"encoding/json"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

const (
	// DefaultConfidence applies when a reply carries no usable confidence.
	DefaultConfidence = 0.7
	// DegradedConfidence applies when the reply could not be parsed.
	DegradedConfidence = 0.5
)

type reply struct {
	Data       json.RawMessage `json:"data"`
	Sources    []models.Source `json:"sources"`
	Confidence *float64        `json:"confidence"`
	Summary    string          `json:"summary"`
}

// ParseResult turns an executor reply into a StepResult. A reply that is not
// a JSON object degrades to a text payload with no sources and confidence
// 0.5; the second return value reports that case.
func ParseResult(text string) (*models.StepResult, bool) {
	var r reply
	if err := llm.DecodeJSON(text, &r); err != nil {
		return &models.StepResult{
			Findings:   models.TextFindings(text),
			Sources:    []models.Source{},
			Confidence: DegradedConfidence,
		}, true
	}

	findings := models.ObjectFindings(nil)
	if len(r.Data) > 0 {
		var v any
		if err := json.Unmarshal(r.Data, &v); err == nil {
			findings = models.FindingsFromValue(v)
		}
	}

	confidence := DefaultConfidence
	if r.Confidence != nil && *r.Confidence > 0 {
		confidence = clamp(*r.Confidence)
	}

	sources := make([]models.Source, 0, len(r.Sources))
	for _, s := range r.Sources {
		s.Relevance = clamp(s.Relevance)
		sources = append(sources, s)
	}

	return &models.StepResult{
		Findings:   findings,
		Sources:    sources,
		Summary:    r.Summary,
		Confidence: confidence,
	}, false
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
