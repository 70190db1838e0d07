package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

func TestParseSteps(t *testing.T) {
	reply := `Here is the plan:
<plan>
  <step id="1">
    <title> Background search </title>
    <description>Find an overview</description>
    <tools>web_search, fetch_url,</tools>
    <dependencies></dependencies>
  </step>
  <step priority="high" id="2">
    <TITLE>Analyze</TITLE>
    <description>Extract figures</description>
    <tools>extract_data</tools>
    <dependencies>1 , ,</dependencies>
  </step>
</plan>`

	steps := ParseSteps(reply)
	require.Len(t, steps, 2)

	assert.Equal(t, "1", steps[0].ID)
	assert.Equal(t, "Background search", steps[0].Title)
	assert.Equal(t, "Find an overview", steps[0].Description)
	assert.Equal(t, []string{"web_search", "fetch_url"}, steps[0].Tools)
	assert.Equal(t, []string{}, steps[0].Dependencies)
	assert.Equal(t, models.StatusPending, steps[0].Status)

	assert.Equal(t, "2", steps[1].ID)
	assert.Equal(t, "Analyze", steps[1].Title, "tag match is case-insensitive")
	assert.Equal(t, []string{"1"}, steps[1].Dependencies)
}

func TestParseStepsMissingFields(t *testing.T) {
	steps := ParseSteps(`<step id="7"><title>Only a title</title></step>`)
	require.Len(t, steps, 1)
	assert.Equal(t, "Only a title", steps[0].Title)
	assert.Empty(t, steps[0].Description)
	assert.Empty(t, steps[0].Tools)
	assert.NotNil(t, steps[0].Tools)
}

func TestParseStepsFirstOccurrenceWins(t *testing.T) {
	steps := ParseSteps(`<step id="1"><title>first</title><title>second</title></step>`)
	require.Len(t, steps, 1)
	assert.Equal(t, "first", steps[0].Title)
}

func TestParseStepsSkipsMalformed(t *testing.T) {
	reply := `<step id="a"><title>non numeric id</title></step>
<step><title>no id</title></step>
<step id="3"><title>unterminated
<step id="4"><title>ok</title></step>`
	steps := ParseSteps(reply)
	require.Len(t, steps, 1)
	assert.Equal(t, "3", steps[0].ID, "the unterminated block runs to the next closing tag")
}

func TestParseStepsNoBlocks(t *testing.T) {
	steps := ParseSteps("I cannot help with that.")
	assert.NotNil(t, steps)
	assert.Empty(t, steps)
}
