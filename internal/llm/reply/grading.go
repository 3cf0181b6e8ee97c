package reply

import (
	"fmt"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/model"
)

// ParseGrading validates a grading reply. It does not reconcile the entries
// against a paper; see scoring.Aggregate.
func ParseGrading(raw string) (model.GradingReply, error) {
	var out model.GradingReply

	obj, err := decode(raw)
	if err != nil {
		return out, err
	}

	items, err := obj.list("question_feedback", "question_feedback", true)
	if err != nil {
		return out, err
	}
	for i, item := range items {
		fb, err := parseFeedback(i, item)
		if err != nil {
			return model.GradingReply{}, err
		}
		out.Feedback = append(out.Feedback, fb)
	}

	if out.OverallFeedback, err = obj.str("overall_feedback", "overall_feedback"); err != nil {
		return model.GradingReply{}, err
	}
	if out.Strengths, err = obj.strList("strengths", "strengths"); err != nil {
		return model.GradingReply{}, err
	}
	if out.Weaknesses, err = obj.strList("weaknesses", "weaknesses"); err != nil {
		return model.GradingReply{}, err
	}
	if out.ImprovementAreas, err = obj.strList("improvement_areas", "improvement_areas"); err != nil {
		return model.GradingReply{}, err
	}
	return out, nil
}

func parseFeedback(i int, item any) (model.FeedbackItem, error) {
	prefix := fmt.Sprintf("question_feedback[%d]", i)
	field := func(name string) string { return prefix + "." + name }

	var fb model.FeedbackItem
	obj, err := asObject(prefix, item)
	if err != nil {
		return fb, err
	}

	n, ok, err := obj.integer(field("question_number"), "question_number")
	if err != nil {
		return fb, err
	}
	if !ok {
		return fb, apperr.SchemaViolation(field("question_number"), "missing")
	}
	fb.QuestionNumber = n

	if fb.MarksObtained, err = obj.number(field("marks_obtained"), "marks_obtained"); err != nil {
		return fb, err
	}

	total, ok, err := obj.integer(field("marks_total"), "marks_total")
	if err != nil {
		return fb, err
	}
	if !ok {
		return fb, apperr.SchemaViolation(field("marks_total"), "missing")
	}
	fb.MarksTotal = total

	if fb.Feedback, err = obj.str(field("feedback"), "feedback"); err != nil {
		return fb, err
	}
	if fb.ReferenceAnswer, err = obj.str(field("correct_answer"), "correct_answer"); err != nil {
		return fb, err
	}
	if fb.Explanation, err = obj.str(field("explanation"), "explanation"); err != nil {
		return fb, err
	}
	return fb, nil
}
