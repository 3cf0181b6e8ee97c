package model

import (
	"context"
	"time"
)

// Mode selects how a paper's questions are sourced.
type Mode string

const (
	ModeCurriculum Mode = "curriculum"
	ModeDocument   Mode = "document"
	ModeMedia      Mode = "media"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeCurriculum, ModeDocument, ModeMedia:
		return true
	}
	return false
}

// QuestionKind is the answer format of a question.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single_choice"
	KindShortAnswer  QuestionKind = "short_answer"
	KindLongAnswer   QuestionKind = "long_answer"
)

// OptionCount is the number of options every single-choice question carries.
const OptionCount = 4

// Question is one generated exam question. It is immutable once generated.
type Question struct {
	Number          int          `json:"question_number" yaml:"question_number"`
	Kind            QuestionKind `json:"question_type" yaml:"question_type"`
	Text            string       `json:"question_text" yaml:"question_text"`
	Marks           int          `json:"marks" yaml:"marks"`
	Options         []string     `json:"options,omitempty" yaml:"options,omitempty"`
	ReferenceAnswer string       `json:"correct_answer,omitempty" yaml:"correct_answer,omitempty"`
}

// PaperSpec is a validated question paper.
type PaperSpec struct {
	Mode         Mode       `json:"mode" yaml:"mode"`
	Instructions string     `json:"instructions" yaml:"instructions"`
	Questions    []Question `json:"questions" yaml:"questions"`
	TotalMarks   int        `json:"total_marks" yaml:"total_marks"`
}

// Question returns the question with the given number.
func (p PaperSpec) Question(number int) (Question, bool) {
	for _, q := range p.Questions {
		if q.Number == number {
			return q, true
		}
	}
	return Question{}, false
}

// SumMarks adds up the per-question marks.
func (p PaperSpec) SumMarks() int {
	total := 0
	for _, q := range p.Questions {
		total += q.Marks
	}
	return total
}

// WithoutAnswers returns a copy with reference answers removed, for showing
// a paper to the person sitting it.
func (p PaperSpec) WithoutAnswers() PaperSpec {
	out := p
	out.Questions = make([]Question, len(p.Questions))
	for i, q := range p.Questions {
		q.ReferenceAnswer = ""
		out.Questions[i] = q
	}
	return out
}

// GenerationRequest holds the caller parameters for one paper.
// Curriculum mode uses Grade, Subject, Chapter and Topic; document and media
// modes use SourceText and the section sizes.
type GenerationRequest struct {
	Mode    Mode   `json:"mode"`
	Grade   string `json:"grade,omitempty"`
	Subject string `json:"subject,omitempty"`
	Chapter string `json:"chapter,omitempty"`
	Topic   string `json:"topic,omitempty"`

	SourceName    string `json:"source_name,omitempty"`
	SourceText    string `json:"-"`
	NumMCQs       int    `json:"num_mcqs,omitempty"`
	NumShort      int    `json:"num_short_questions,omitempty"`
	MarksPerMCQ   int    `json:"marks_per_mcq,omitempty"`
	MarksPerShort int    `json:"marks_per_short,omitempty"`
}

// SubmittedAnswers maps question number to the raw answer text.
// Not every question needs an entry.
type SubmittedAnswers map[int]string

// FeedbackItem is one validated entry of a grading reply. MarksObtained is nil
// when the model sent null or left the field out.
type FeedbackItem struct {
	QuestionNumber  int
	MarksObtained   *float64
	MarksTotal      int
	Feedback        string
	ReferenceAnswer string
	Explanation     string
}

// GradingReply is the validated grading reply, before aggregation.
type GradingReply struct {
	Feedback         []FeedbackItem
	OverallFeedback  string
	Strengths        []string
	Weaknesses       []string
	ImprovementAreas []string
}

// QuestionFeedback is the final per-question grading outcome.
type QuestionFeedback struct {
	QuestionNumber  int     `json:"question_number" yaml:"question_number"`
	SubmittedAnswer string  `json:"student_answer" yaml:"student_answer"`
	MarksObtained   float64 `json:"marks_obtained" yaml:"marks_obtained"`
	MarksTotal      int     `json:"marks_total" yaml:"marks_total"`
	Feedback        string  `json:"feedback" yaml:"feedback"`
	ReferenceAnswer string  `json:"correct_answer,omitempty" yaml:"correct_answer,omitempty"`
	Explanation     string  `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// EvaluationResult is the graded outcome of one submission.
type EvaluationResult struct {
	TotalScore       float64            `json:"total_score" yaml:"total_score"`
	TotalMarks       int                `json:"total_marks" yaml:"total_marks"`
	Percentage       float64            `json:"percentage" yaml:"percentage"`
	Grade            string             `json:"grade_letter" yaml:"grade_letter"`
	Feedback         []QuestionFeedback `json:"feedback" yaml:"feedback"`
	OverallFeedback  string             `json:"overall_feedback" yaml:"overall_feedback"`
	Strengths        []string           `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Weaknesses       []string           `json:"weaknesses,omitempty" yaml:"weaknesses,omitempty"`
	ImprovementAreas []string           `json:"improvement_areas,omitempty" yaml:"improvement_areas,omitempty"`
}

// UserRole distinguishes administrators from regular users.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User is an account that owns papers and evaluations.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Paper is a stored PaperSpec with its request metadata.
type Paper struct {
	ID         int64     `json:"paper_id"`
	OwnerID    int64     `json:"-"`
	Spec       PaperSpec `json:"paper"`
	Grade      string    `json:"grade,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Chapter    string    `json:"chapter,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	SourceName string    `json:"source_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Evaluation is a stored EvaluationResult.
type Evaluation struct {
	ID          int64            `json:"evaluation_id" yaml:"evaluation_id"`
	OwnerID     int64            `json:"-" yaml:"owner_id"`
	PaperID     int64            `json:"paper_id" yaml:"paper_id"`
	Answers     SubmittedAnswers `json:"answers" yaml:"answers"`
	Result      EvaluationResult `json:"result" yaml:"result"`
	EvaluatedAt time.Time        `json:"evaluated_at" yaml:"evaluated_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}
