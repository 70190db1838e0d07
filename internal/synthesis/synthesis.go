// Package synthesis writes the final report from executed steps and
// extracted knowledge, either in one call or as a stream of chunks.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/prompts"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// Synthesizer produces research reports.
type Synthesizer struct {
	reasoner llm.Reasoner
	prompts  *prompts.Set
	logger   *zap.Logger
}

// New creates a synthesizer. A nil prompt set uses the embedded templates.
func New(reasoner llm.Reasoner, set *prompts.Set, logger *zap.Logger) *Synthesizer {
	if set == nil {
		set = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		reasoner: reasoner,
		prompts:  set,
		logger:   logger.With(zap.String("component", "synthesizer")),
	}
}

func (s *Synthesizer) messages(query string, steps []*models.PlanStep, knowledge []models.KnowledgeEntry) ([]llm.Message, error) {
	prompt, err := s.prompts.Synthesize(query, steps, knowledge)
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.System(prompts.SynthesizerSystem), llm.User(prompt)}, nil
}

// Synthesize returns the full report in one call.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, steps []*models.PlanStep, knowledge []models.KnowledgeEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "research.synthesize")
	defer span.End()

	msgs, err := s.messages(query, steps, knowledge)
	if err != nil {
		return "", err
	}
	out, err := s.reasoner.Complete(ctx, llm.RoleSynthesizer, msgs, llm.Options{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("synthesize report: %w", err)
	}
	s.logger.Info("Report generated", zap.Int("characters", len(out.Text)))
	return out.Text, nil
}

// ChunkFunc receives report chunks in order. Returning an error stops the
// stream and releases the underlying call.
type ChunkFunc func(chunk string) error

// Stream delivers the report chunk by chunk and returns the assembled
// text. The consumer may stop early by returning an error from onChunk or
// by cancelling ctx; the text received so far is returned with the error.
func (s *Synthesizer) Stream(ctx context.Context, query string, steps []*models.PlanStep, knowledge []models.KnowledgeEntry, onChunk ChunkFunc) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "research.synthesize")
	defer span.End()

	msgs, err := s.messages(query, steps, knowledge)
	if err != nil {
		return "", err
	}
	stream, err := s.reasoner.Stream(ctx, llm.RoleSynthesizer, msgs, llm.Options{})
	if err != nil {
		return "", fmt.Errorf("start report stream: %w", err)
	}
	defer stream.Close()

	var report strings.Builder
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				if err := stream.Err(); err != nil {
					span.RecordError(err)
					return report.String(), fmt.Errorf("stream report: %w", err)
				}
				s.logger.Info("Report streamed", zap.Int("characters", report.Len()))
				return report.String(), nil
			}
			report.WriteString(chunk)
			if onChunk != nil {
				if err := onChunk(chunk); err != nil {
					return report.String(), err
				}
			}
		case <-ctx.Done():
			return report.String(), ctx.Err()
		}
	}
}
