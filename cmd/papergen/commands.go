package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/papergen/internal/exam"
	"github.com/pavelanni/papergen/internal/extract"
	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/store"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one paper and print it",
		Long: `Generate a question paper without starting the server.

Curriculum papers need --grade, --subject and --chapter. Document and media
papers need --file and at least one of --num-mcqs and --num-short.`,
		RunE: runGenerate,
	}
	f := cmd.Flags()
	f.String("mode", string(model.ModeCurriculum), "Paper mode (curriculum, document, media)")
	f.String("grade", "", "Class or grade level (curriculum)")
	f.String("subject", "", "Subject (curriculum)")
	f.String("chapter", "", "Chapter (curriculum)")
	f.String("topic", "", "Optional topic within the chapter (curriculum)")
	f.String("file", "", "Source document or media file (document, media)")
	f.Int("num-mcqs", 0, "Number of multiple-choice questions (document, media)")
	f.Int("num-short", 0, "Number of short-answer questions (document, media)")
	f.Int("marks-per-mcq", 2, "Marks per multiple-choice question")
	f.Int("marks-per-short", 5, "Marks per short-answer question")
	f.String("format", "json", "Output format (json, yaml)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade an answers file against a paper file",
		Long: `Grade a submission without starting the server.

--paper is a paper as printed by "generate" (JSON or YAML). --answers maps
question numbers to answer text, for example {"1": "B", "11": "Because..."}.`,
		RunE: runEvaluate,
	}
	f := cmd.Flags()
	f.String("paper", "", "Paper file, JSON or YAML (required)")
	f.String("answers", "", "Answers file, JSON or YAML (required)")
	f.String("format", "json", "Output format (json, yaml)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLLMFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("paper")
	_ = cmd.MarkFlagRequired("answers")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all stored evaluations",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "papergen.db", "SQLite database path")
	f.String("format", "json", "Output format (json, yaml)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func newService(cfg llm.Config) (*exam.Service, *llm.Client, error) {
	composer, err := prompts.New(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load prompts: %w", err)
	}
	client := llm.New(cfg)
	return exam.NewService(composer, client, cfg.Logger), client, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	log := setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, client, err := newService(llmConfig(v, log))
	if err != nil {
		return err
	}

	req := model.GenerationRequest{
		Mode:          model.Mode(strings.ToLower(v.GetString("mode"))),
		Grade:         v.GetString("grade"),
		Subject:       v.GetString("subject"),
		Chapter:       v.GetString("chapter"),
		Topic:         v.GetString("topic"),
		NumMCQs:       v.GetInt("num-mcqs"),
		NumShort:      v.GetInt("num-short"),
		MarksPerMCQ:   v.GetInt("marks-per-mcq"),
		MarksPerShort: v.GetInt("marks-per-short"),
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("unknown mode %q (want curriculum, document or media)", req.Mode)
	}

	if req.Mode != model.ModeCurriculum {
		path := v.GetString("file")
		if path == "" {
			return fmt.Errorf("--file is required for %s papers", req.Mode)
		}
		req.SourceName = filepath.Base(path)
		req.SourceText, err = sourceText(ctx, client, req.Mode, path)
		if err != nil {
			return err
		}
	}

	paper, err := svc.GeneratePaper(ctx, req)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	return writeAs(w, v.GetString("format"), paper)
}

// sourceText extracts document text or transcribes a media file.
func sourceText(ctx context.Context, client *llm.Client, mode model.Mode, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	if mode == model.ModeDocument {
		return extract.Document(filepath.Base(path), f)
	}

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if _, err := extract.Media(path, info.Size()); err != nil {
		return "", err
	}
	raw, err := client.Transcribe(ctx, filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	return extract.Transcript(raw)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	log := setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	paper, err := loadPaper(v.GetString("paper"))
	if err != nil {
		return err
	}
	var answers model.SubmittedAnswers
	if err := decodeFile(v.GetString("answers"), &answers); err != nil {
		return err
	}

	svc, _, err := newService(llmConfig(v, log))
	if err != nil {
		return err
	}
	result, err := svc.EvaluatePaper(ctx, paper, answers)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	return writeAs(w, v.GetString("format"), result)
}

// loadPaper reads a paper file and checks it is gradable.
func loadPaper(path string) (model.PaperSpec, error) {
	var paper model.PaperSpec
	if err := decodeFile(path, &paper); err != nil {
		return paper, err
	}
	if len(paper.Questions) == 0 {
		return paper, fmt.Errorf("%s: paper has no questions", path)
	}
	seen := make([]int, 0, len(paper.Questions))
	for _, q := range paper.Questions {
		if q.Number < 1 || slices.Contains(seen, q.Number) {
			return paper, fmt.Errorf("%s: bad or repeated question number %d", path, q.Number)
		}
		if q.Marks < 1 {
			return paper, fmt.Errorf("%s: question %d has no marks", path, q.Number)
		}
		seen = append(seen, q.Number)
	}
	paper.TotalMarks = paper.SumMarks()
	return paper, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportEvaluations()
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}

	export := model.EvaluationExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(results),
		Results:    results,
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	return writeAs(w, v.GetString("format"), export)
}
