package scoring

import (
	"math"

	"github.com/pavelanni/papergen/internal/model"
)

// MissingFeedback is the feedback text recorded for a question the grader
// did not return.
const MissingFeedback = "No evaluation provided for this question."

// Aggregate reconciles a grading reply against the paper and computes the
// final result. Every paper question gets exactly one feedback entry, in paper
// order. Entries for unknown numbers and repeated entries are dropped.
// marks_total always comes from the paper and marks_obtained is clamped into
// [0, marks_total].
func Aggregate(paper model.PaperSpec, reply model.GradingReply, answers model.SubmittedAnswers) model.EvaluationResult {
	byNumber := make(map[int]model.FeedbackItem, len(reply.Feedback))
	for _, fb := range reply.Feedback {
		if _, ok := paper.Question(fb.QuestionNumber); !ok {
			continue
		}
		if _, seen := byNumber[fb.QuestionNumber]; seen {
			continue
		}
		byNumber[fb.QuestionNumber] = fb
	}

	res := model.EvaluationResult{
		Feedback:         make([]model.QuestionFeedback, 0, len(paper.Questions)),
		OverallFeedback:  reply.OverallFeedback,
		Strengths:        reply.Strengths,
		Weaknesses:       reply.Weaknesses,
		ImprovementAreas: reply.ImprovementAreas,
	}

	for _, q := range paper.Questions {
		res.TotalMarks += q.Marks
		qf := model.QuestionFeedback{
			QuestionNumber:  q.Number,
			SubmittedAnswer: answers[q.Number],
			MarksTotal:      q.Marks,
		}

		fb, ok := byNumber[q.Number]
		if !ok {
			qf.Feedback = MissingFeedback
			qf.ReferenceAnswer = q.ReferenceAnswer
			res.Feedback = append(res.Feedback, qf)
			continue
		}

		if fb.MarksObtained != nil {
			qf.MarksObtained = clamp(*fb.MarksObtained, 0, float64(q.Marks))
		}
		qf.Feedback = fb.Feedback
		qf.ReferenceAnswer = fb.ReferenceAnswer
		if qf.ReferenceAnswer == "" {
			qf.ReferenceAnswer = q.ReferenceAnswer
		}
		qf.Explanation = fb.Explanation
		res.TotalScore += qf.MarksObtained
		res.Feedback = append(res.Feedback, qf)
	}

	res.Percentage = Percentage(res.TotalScore, res.TotalMarks)
	res.Grade = Classify(res.Percentage)
	return res
}

// Percentage returns 100*score/total rounded to two decimals, or 0 when total
// is 0.
func Percentage(score float64, total int) float64 {
	if total == 0 {
		return 0
	}
	return Round2(score / float64(total) * 100)
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
