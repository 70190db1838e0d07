// Package prompts renders the reasoning-service prompts for every role.
//
// Templates are embedded and can be overridden per file from a directory
// (RESEARCH_PROMPTS_DIR). An override that fails to parse is ignored and the
// embedded template is used instead.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// System prompts, one per role.
const (
	PlannerSystem     = "You are a research planning expert. Create detailed, structured research plans."
	VerifierSystem    = "You are a verification expert. Validate plans and identify issues."
	ExecutorSystem    = "You are a task execution expert. Execute research tasks accurately."
	SynthesizerSystem = "You are a synthesis expert. Combine information into coherent, well-sourced reports."
)

// Template names.
const (
	Plan       = "plan"
	Verify     = "verify"
	Execute    = "execute"
	Synthesize = "synthesize"
	Policy     = "policy"
)

//go:embed templates/*.tmpl
var embedded embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// Set is an immutable collection of parsed templates.
type Set struct {
	templates map[string]*template.Template
}

var defaultSet = mustEmbedded()

// Default returns the embedded templates.
func Default() *Set { return defaultSet }

func mustEmbedded() *Set {
	s, err := parseEmbedded()
	if err != nil {
		panic(err)
	}
	return s
}

func parseEmbedded() (*Set, error) {
	s := &Set{templates: make(map[string]*template.Template)}
	for _, name := range []string{Plan, Verify, Execute, Synthesize, Policy} {
		raw, err := embedded.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("read embedded template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse embedded template %s: %w", name, err)
		}
		s.templates[name] = tmpl
	}
	return s, nil
}

// Load returns the embedded set with any <name>.tmpl found in dir layered
// on top. An empty dir returns Default().
func Load(dir string, logger *zap.Logger) *Set {
	if dir == "" {
		return Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{templates: make(map[string]*template.Template, len(defaultSet.templates))}
	for name, tmpl := range defaultSet.templates {
		s.templates[name] = tmpl
		path := filepath.Join(dir, name+".tmpl")
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Failed to read prompt override", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		override, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			logger.Warn("Failed to parse prompt override, using embedded", zap.String("path", path), zap.Error(err))
			continue
		}
		s.templates[name] = override
		logger.Debug("Loaded prompt override", zap.String("name", name), zap.String("path", path))
	}
	return s
}

func (s *Set) render(name string, data any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// PlanData feeds the planning prompt.
type PlanData struct {
	Query    string
	MinSteps int
	MaxSteps int
	Tools    []string
	// Feedback lists issues from the previous rejected attempt.
	Feedback []string
}

// Plan renders the planning prompt.
func (s *Set) Plan(d PlanData) (string, error) {
	if d.MinSteps <= 0 {
		d.MinSteps = 3
	}
	if d.MaxSteps < d.MinSteps {
		d.MaxSteps = 8
	}
	return s.render(Plan, d)
}

// stepView is the projection of a step shown to the verifier.
type stepView struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tools        []string `json:"tools"`
	Dependencies []string `json:"dependencies"`
}

// Verify renders the semantic verification prompt.
func (s *Set) Verify(steps []*models.PlanStep, tools []string) (string, error) {
	views := make([]stepView, 0, len(steps))
	for _, st := range steps {
		views = append(views, stepView{
			ID:           st.ID,
			Title:        st.Title,
			Description:  st.Description,
			Tools:        nonNil(st.Tools),
			Dependencies: nonNil(st.Dependencies),
		})
	}
	return s.render(Verify, struct {
		Steps []stepView
		Tools []string
	}{views, tools})
}

// StepContext is one completed dependency handed to the executor.
type StepContext struct {
	StepID string             `json:"stepId"`
	Title  string             `json:"title"`
	Result *models.StepResult `json:"result"`
}

// Execute renders the step execution prompt.
func (s *Set) Execute(step *models.PlanStep, context []StepContext) (string, error) {
	return s.render(Execute, struct {
		Title       string
		Description string
		Tools       []string
		Context     []StepContext
	}{step.Title, step.Description, step.Tools, context})
}

type synthesisStep struct {
	Title  string             `json:"title"`
	Result *models.StepResult `json:"result"`
}

// Synthesize renders the report prompt from the steps that produced a
// result and the extracted knowledge.
func (s *Set) Synthesize(query string, steps []*models.PlanStep, knowledge []models.KnowledgeEntry) (string, error) {
	withResult := make([]synthesisStep, 0, len(steps))
	for _, st := range steps {
		if st.Result != nil {
			withResult = append(withResult, synthesisStep{Title: st.Title, Result: st.Result})
		}
	}
	contents := make([]string, 0, len(knowledge))
	for _, k := range knowledge {
		contents = append(contents, k.Content)
	}
	return s.render(Synthesize, struct {
		Query     string
		Steps     []synthesisStep
		Knowledge []string
	}{query, withResult, contents})
}

type policyStep struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Policy renders the fallback decision prompt.
func (s *Set) Policy(query string, steps []*models.PlanStep, completed int, issues []string) (string, error) {
	views := make([]policyStep, 0, len(steps))
	for _, st := range steps {
		views = append(views, policyStep{Title: st.Title, Status: st.Status})
	}
	return s.render(Policy, struct {
		Query     string
		Steps     []policyStep
		Completed int
		Issues    []string
	}{query, views, completed, issues})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
