package planner

import (
	"regexp"
	"strings"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

var (
	stepPattern = regexp.MustCompile(`<step[^>]*id="(\d+)"[^>]*>([\s\S]*?)</step>`)
	tagPatterns = map[string]*regexp.Regexp{
		"title":        tagPattern("title"),
		"description":  tagPattern("description"),
		"tools":        tagPattern("tools"),
		"dependencies": tagPattern("dependencies"),
	}
)

func tagPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)<` + tag + `>([\s\S]*?)</` + tag + `>`)
}

// ParseSteps extracts every well-formed step block from a planning reply.
// Malformed blocks are skipped and missing fields come back empty; callers
// rely on verification to reject incomplete steps. A reply with no step
// blocks yields an empty, non-nil slice.
func ParseSteps(text string) []*models.PlanStep {
	matches := stepPattern.FindAllStringSubmatch(text, -1)
	steps := make([]*models.PlanStep, 0, len(matches))
	for _, m := range matches {
		body := m[2]
		steps = append(steps, &models.PlanStep{
			ID:           m[1],
			Title:        extractTag(body, "title"),
			Description:  extractTag(body, "description"),
			Tools:        splitList(extractTag(body, "tools")),
			Dependencies: splitList(extractTag(body, "dependencies")),
			Status:       models.StatusPending,
		})
	}
	return steps
}

// extractTag returns the trimmed body of the first occurrence of tag.
func extractTag(content, tag string) string {
	m := tagPatterns[tag].FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// splitList splits a comma separated field, dropping empty tokens.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
