package reply

import (
	"fmt"
	"strings"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
)

// ParseGeneration validates a generation reply against contract and returns
// the paper it describes.
func ParseGeneration(raw string, contract prompts.Contract) (model.PaperSpec, error) {
	obj, err := decode(raw)
	if err != nil {
		return model.PaperSpec{}, err
	}

	items, err := obj.list("questions", "questions", true)
	if err != nil {
		return model.PaperSpec{}, err
	}
	instructions, err := obj.str("instructions", "instructions")
	if err != nil {
		return model.PaperSpec{}, err
	}

	if len(items) != contract.TotalQuestions {
		return model.PaperSpec{}, apperr.CountMismatch("questions", contract.TotalQuestions, len(items))
	}

	questions := make([]model.Question, 0, len(items))
	singleChoice := 0
	for i, item := range items {
		q, err := parseQuestion(i, item)
		if err != nil {
			return model.PaperSpec{}, err
		}
		if q.Kind == model.KindSingleChoice {
			singleChoice++
		}
		questions = append(questions, q)
	}
	if want := contract.SingleChoiceCount(); singleChoice != want {
		return model.PaperSpec{}, apperr.CountMismatch("single_choice", want, singleChoice)
	}

	for i := range questions {
		if err := checkSlot(i, &questions[i], contract); err != nil {
			return model.PaperSpec{}, err
		}
	}

	return model.PaperSpec{
		Mode:         contract.Mode,
		Instructions: instructions,
		Questions:    questions,
		TotalMarks:   contract.TotalMarks,
	}, nil
}

func parseQuestion(i int, item any) (model.Question, error) {
	prefix := fmt.Sprintf("questions[%d]", i)
	field := func(name string) string { return prefix + "." + name }

	obj, err := asObject(prefix, item)
	if err != nil {
		return model.Question{}, err
	}

	var q model.Question
	n, ok, err := obj.integer(field("question_number"), "question_number")
	if err != nil {
		return q, err
	}
	if !ok {
		return q, apperr.SchemaViolation(field("question_number"), "missing")
	}
	q.Number = n

	typ, err := obj.str(field("question_type"), "question_type")
	if err != nil {
		return q, err
	}
	kind, ok := ParseKind(typ)
	if !ok {
		return q, apperr.SchemaViolation(field("question_type"), "unknown question type %q", typ)
	}
	q.Kind = kind

	if q.Text, err = obj.str(field("question_text"), "question_text"); err != nil {
		return q, err
	}
	if q.Text == "" {
		return q, apperr.SchemaViolation(field("question_text"), "missing")
	}

	marks, ok, err := obj.integer(field("marks"), "marks")
	if err != nil {
		return q, err
	}
	if !ok {
		return q, apperr.SchemaViolation(field("marks"), "missing")
	}
	q.Marks = marks

	if q.ReferenceAnswer, err = obj.str(field("correct_answer"), "correct_answer"); err != nil {
		return q, err
	}

	if kind == model.KindSingleChoice {
		if q.Options, err = obj.strList(field("options"), "options"); err != nil {
			return q, err
		}
	}
	return q, nil
}

// checkSlot verifies q against the contract position it occupies.
func checkSlot(i int, q *model.Question, contract prompts.Contract) error {
	field := func(name string) string { return fmt.Sprintf("questions[%d].%s", i, name) }

	want := i + 1
	if q.Number != want {
		return apperr.SchemaViolation(field("question_number"), "expected %d, got %d", want, q.Number)
	}
	slot, ok := contract.Slot(want)
	if !ok {
		return apperr.SchemaViolation(field("question_number"), "%d is outside the paper", want)
	}
	if q.Kind != slot.Kind {
		return apperr.SchemaViolation(field("question_type"), "expected %s, got %s", prompts.KindLabel(slot.Kind), prompts.KindLabel(q.Kind))
	}
	if q.Marks != slot.Marks {
		return apperr.SchemaViolation(field("marks"), "expected %d, got %d", slot.Marks, q.Marks)
	}
	if q.Kind == model.KindSingleChoice && len(q.Options) != model.OptionCount {
		return apperr.SchemaViolation(field("options"), "expected %d options, got %d", model.OptionCount, len(q.Options))
	}
	return nil
}

// ParseKind maps a reply question_type label to a QuestionKind.
func ParseKind(label string) (model.QuestionKind, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.NewReplacer("-", " ", "_", " ").Replace(l)
	switch l {
	case "mcq", "multiple choice", "single choice":
		return model.KindSingleChoice, true
	case "short answer", "short":
		return model.KindShortAnswer, true
	case "long answer", "long":
		return model.KindLongAnswer, true
	}
	return "", false
}
