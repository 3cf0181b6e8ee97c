package scoring

import (
	"sort"
	"strings"

	"github.com/pavelanni/papergen/internal/model"
)

// Normalized is the canonical form of a submission.
type Normalized struct {
	// Answered holds non-blank answers keyed by question number.
	Answered map[int]string
	// Unanswered lists paper questions with no usable answer, ascending.
	Unanswered []int
	// Unknown lists submitted numbers that are not on the paper, ascending.
	Unknown []int
}

// Answer returns the normalized answer for number and whether one exists.
func (n Normalized) Answer(number int) (string, bool) {
	a, ok := n.Answered[number]
	return a, ok
}

// NormalizeAnswers canonicalizes answers against paper. Single-choice
// answers whose first non-blank character is A-D collapse to that uppercase
// letter; everything else is only trimmed.
func NormalizeAnswers(paper model.PaperSpec, answers model.SubmittedAnswers) Normalized {
	n := Normalized{Answered: make(map[int]string)}

	for _, q := range paper.Questions {
		raw, ok := answers[q.Number]
		if !ok {
			n.Unanswered = append(n.Unanswered, q.Number)
			continue
		}
		a := strings.TrimSpace(raw)
		if a == "" {
			n.Unanswered = append(n.Unanswered, q.Number)
			continue
		}
		if q.Kind == model.KindSingleChoice {
			a = NormalizeChoice(a)
		}
		n.Answered[q.Number] = a
	}

	for num := range answers {
		if _, ok := paper.Question(num); !ok {
			n.Unknown = append(n.Unknown, num)
		}
	}
	sort.Ints(n.Unanswered)
	sort.Ints(n.Unknown)
	return n
}

// NormalizeChoice reduces "B) Market equilibrium" or "b" to "B". Text that
// does not start with an option letter is returned trimmed.
func NormalizeChoice(answer string) string {
	a := strings.TrimSpace(answer)
	if a == "" {
		return a
	}
	if l, ok := OptionLetter(a[0]); ok {
		return l
	}
	return a
}

// OptionLetter maps a first byte in A-D (any case) to its uppercase letter.
func OptionLetter(c byte) (string, bool) {
	switch {
	case c >= 'A' && c <= 'D':
		return string(c), true
	case c >= 'a' && c <= 'd':
		return string(c - 'a' + 'A'), true
	}
	return "", false
}
