package prompts

import (
	"strings"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/model"
)

// Section is a contiguous block of questions of one kind.
type Section struct {
	Kind  model.QuestionKind
	Count int
	Marks int
	First int
	Last  int
}

// Total returns the marks the section is worth.
func (s Section) Total() int { return s.Count * s.Marks }

// Contract is the structure a generation reply must satisfy.
type Contract struct {
	Mode           model.Mode
	Sections       []Section
	TotalQuestions int
	TotalMarks     int
}

// SingleChoiceCount returns the number of single-choice questions required.
func (c Contract) SingleChoiceCount() int {
	n := 0
	for _, s := range c.Sections {
		if s.Kind == model.KindSingleChoice {
			n += s.Count
		}
	}
	return n
}

// Slot returns the section that question number falls into.
func (c Contract) Slot(number int) (Section, bool) {
	for _, s := range c.Sections {
		if number >= s.First && number <= s.Last {
			return s, true
		}
	}
	return Section{}, false
}

// Curriculum paper layout.
var curriculumSections = []struct {
	kind  model.QuestionKind
	count int
	marks int
}{
	{model.KindSingleChoice, 10, 2},
	{model.KindShortAnswer, 6, 5},
	{model.KindLongAnswer, 4, 10},
}

// NewContract validates req and derives the paper contract from it.
func NewContract(req model.GenerationRequest) (Contract, error) {
	switch req.Mode {
	case model.ModeCurriculum:
		for _, f := range []struct{ name, val string }{
			{"grade", req.Grade},
			{"subject", req.Subject},
			{"chapter", req.Chapter},
		} {
			if strings.TrimSpace(f.val) == "" {
				return Contract{}, apperr.InvalidRequest("%s is required", f.name)
			}
		}
		c := Contract{Mode: req.Mode}
		for _, s := range curriculumSections {
			c.add(s.kind, s.count, s.marks)
		}
		return c, nil

	case model.ModeDocument, model.ModeMedia:
		if req.NumMCQs < 0 || req.NumShort < 0 {
			return Contract{}, apperr.InvalidRequest("question counts must not be negative")
		}
		if req.NumMCQs == 0 && req.NumShort == 0 {
			return Contract{}, apperr.InvalidRequest("specify at least one type of question (MCQs or short questions)")
		}
		if req.NumMCQs > MaxSectionSize || req.NumShort > MaxSectionSize {
			return Contract{}, apperr.InvalidRequest("at most %d questions per section", MaxSectionSize)
		}
		if req.NumMCQs > 0 && req.MarksPerMCQ < 1 {
			return Contract{}, apperr.InvalidRequest("marks per MCQ must be at least 1")
		}
		if req.NumShort > 0 && req.MarksPerShort < 1 {
			return Contract{}, apperr.InvalidRequest("marks per short question must be at least 1")
		}
		if strings.TrimSpace(req.SourceText) == "" {
			return Contract{}, apperr.InvalidRequest("%s text is empty", req.Mode)
		}
		c := Contract{Mode: req.Mode}
		c.add(model.KindSingleChoice, req.NumMCQs, req.MarksPerMCQ)
		c.add(model.KindShortAnswer, req.NumShort, req.MarksPerShort)
		return c, nil
	}
	return Contract{}, apperr.InvalidRequest("unknown mode %q", req.Mode)
}

func (c *Contract) add(kind model.QuestionKind, count, marks int) {
	if count == 0 {
		return
	}
	first := c.TotalQuestions + 1
	c.Sections = append(c.Sections, Section{
		Kind:  kind,
		Count: count,
		Marks: marks,
		First: first,
		Last:  first + count - 1,
	})
	c.TotalQuestions += count
	c.TotalMarks += count * marks
}
