// Package exam runs the two pipelines: generating a paper from caller
// parameters and grading a submission against a paper.
package exam

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/llm/reply"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/scoring"
)

// Service wires the prompt composer, the gateway and the validators. It keeps
// no per-request state and is safe for concurrent use.
type Service struct {
	composer *prompts.Composer
	gateway  llm.Gateway
	log      *slog.Logger
	tracer   trace.Tracer
}

// NewService creates a Service. A nil logger uses slog.Default.
func NewService(composer *prompts.Composer, gateway llm.Gateway, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		composer: composer,
		gateway:  gateway,
		log:      log,
		tracer:   otel.Tracer("github.com/pavelanni/papergen/internal/exam"),
	}
}

// GeneratePaper produces a paper that satisfies the contract derived from req.
func (s *Service) GeneratePaper(ctx context.Context, req model.GenerationRequest) (model.PaperSpec, error) {
	ctx, span := s.tracer.Start(ctx, "exam.generate", trace.WithAttributes(
		attribute.String("paper.mode", string(req.Mode)),
	))
	defer span.End()

	prompt, err := s.composer.Generation(req)
	if err != nil {
		return model.PaperSpec{}, fail(span, "generate paper", err)
	}

	raw, err := s.gateway.Generate(ctx, prompt)
	if err != nil {
		return model.PaperSpec{}, fail(span, "generate paper", err)
	}

	paper, err := reply.ParseGeneration(raw, prompt.Contract)
	if err != nil {
		s.log.Warn("generation reply rejected", "mode", req.Mode, "kind", apperr.KindName(err), "error", err)
		return model.PaperSpec{}, fail(span, "generate paper", err)
	}

	span.SetAttributes(
		attribute.Int("paper.questions", len(paper.Questions)),
		attribute.Int("paper.total_marks", paper.TotalMarks),
	)
	s.log.Info("paper generated", "mode", paper.Mode, "questions", len(paper.Questions), "total_marks", paper.TotalMarks)
	return paper, nil
}

// EvaluatePaper grades answers against paper. Every question of the paper
// appears exactly once in the result.
func (s *Service) EvaluatePaper(ctx context.Context, paper model.PaperSpec, answers model.SubmittedAnswers) (model.EvaluationResult, error) {
	ctx, span := s.tracer.Start(ctx, "exam.evaluate", trace.WithAttributes(
		attribute.Int("paper.questions", len(paper.Questions)),
	))
	defer span.End()

	normalized := scoring.NormalizeAnswers(paper, answers)
	if len(normalized.Unknown) > 0 {
		s.log.Debug("ignoring answers for unknown questions", "numbers", normalized.Unknown)
	}

	prompt, err := s.composer.Grading(paper, normalized)
	if err != nil {
		return model.EvaluationResult{}, fail(span, "evaluate paper", err)
	}

	raw, err := s.gateway.Grade(ctx, prompt)
	if err != nil {
		return model.EvaluationResult{}, fail(span, "evaluate paper", err)
	}

	gr, err := reply.ParseGrading(raw)
	if err != nil {
		s.log.Warn("grading reply rejected", "kind", apperr.KindName(err), "error", err)
		return model.EvaluationResult{}, fail(span, "evaluate paper", err)
	}

	result := scoring.Aggregate(paper, gr, submitted(paper, answers))
	span.SetAttributes(
		attribute.Float64("result.percentage", result.Percentage),
		attribute.String("result.grade", result.Grade),
	)
	s.log.Info("paper evaluated", "score", result.TotalScore, "total", result.TotalMarks, "grade", result.Grade,
		"unanswered", len(normalized.Unanswered))
	return result, nil
}

// submitted keeps the raw answers for paper questions only.
func submitted(paper model.PaperSpec, answers model.SubmittedAnswers) model.SubmittedAnswers {
	out := make(model.SubmittedAnswers, len(answers))
	for _, q := range paper.Questions {
		if a, ok := answers[q.Number]; ok {
			out[q.Number] = a
		}
	}
	return out
}

func fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindName(err))
	return fmt.Errorf("%s: %w", op, err)
}
