// Package prompts builds the generation and grading instructions sent to the
// model together with the structural contract a generation reply must meet.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/scoring"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// Source text limits applied inside the prompt.
const (
	DocumentTextLimit = 10000
	MediaTextLimit    = 12000
	MaxSectionSize    = 50
)

// Sampling temperatures per prompt family.
const (
	GenerationTemperature float32 = 0.7
	MediaTemperature      float32 = 0.5
	GradingTemperature    float32 = 0.3
)

// NoAnswer is embedded for questions the student left blank.
const NoAnswer = "No answer provided"

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var templateNames = []string{"curriculum", "document", "media", "grading"}

// Prompt is a fully rendered model request.
type Prompt struct {
	System      string
	User        string
	Temperature float32
	// Contract is the shape a generation reply must have. It is zero for
	// grading prompts.
	Contract Contract
}

// Composer renders prompts from a fixed template set. It is safe for
// concurrent use.
type Composer struct {
	templates map[string]*template.Template
}

// New parses the prompt templates from fsys. A nil fsys uses the built-in
// templates. fsys must hold templates/<name>.tmpl files, each defining a
// "system" and a "user" template.
func New(fsys fs.FS) (*Composer, error) {
	if fsys == nil {
		fsys = embedded
	}
	c := &Composer{templates: make(map[string]*template.Template, len(templateNames))}
	for _, name := range templateNames {
		file := "templates/" + name + ".tmpl"
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read prompt template %s: %w", file, err)
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", file, err)
		}
		for _, part := range []string{"system", "user"} {
			if tmpl.Lookup(part) == nil {
				return nil, fmt.Errorf("prompt template %s: missing %q block", file, part)
			}
		}
		c.templates[name] = tmpl
	}
	return c, nil
}

var funcs = template.FuncMap{
	"add":   func(a, b int) int { return a + b },
	"join":  strings.Join,
	"label": KindLabel,
}

type generationData struct {
	Req      model.GenerationRequest
	Contract Contract
	Source   string
}

// Generation renders the prompt for req and the contract its reply must meet.
func (c *Composer) Generation(req model.GenerationRequest) (Prompt, error) {
	contract, err := NewContract(req)
	if err != nil {
		return Prompt{}, err
	}

	data := generationData{Req: req, Contract: contract}
	temperature := GenerationTemperature
	switch req.Mode {
	case model.ModeDocument:
		data.Source = truncate(req.SourceText, DocumentTextLimit)
	case model.ModeMedia:
		data.Source = truncate(req.SourceText, MediaTextLimit)
		temperature = MediaTemperature
	}

	p, err := c.render(string(req.Mode), data)
	if err != nil {
		return Prompt{}, err
	}
	p.Temperature = temperature
	p.Contract = contract
	return p, nil
}

type gradingQuestion struct {
	Number    int
	Kind      model.QuestionKind
	Marks     int
	Text      string
	Options   []string
	Reference string
	Answer    string
}

type gradingData struct {
	Questions []gradingQuestion
	Count     int
}

// Grading renders the grading prompt for paper and the normalized answers.
func (c *Composer) Grading(paper model.PaperSpec, answers scoring.Normalized) (Prompt, error) {
	if len(paper.Questions) == 0 {
		return Prompt{}, apperr.InvalidRequest("paper has no questions")
	}

	data := gradingData{Count: len(paper.Questions)}
	for _, q := range paper.Questions {
		gq := gradingQuestion{
			Number:    q.Number,
			Kind:      q.Kind,
			Marks:     q.Marks,
			Text:      q.Text,
			Reference: q.ReferenceAnswer,
			Answer:    NoAnswer,
		}
		if a, ok := answers.Answer(q.Number); ok {
			gq.Answer = sanitizeAnswer(a)
		}
		if q.Kind == model.KindSingleChoice {
			gq.Options = q.Options
			gq.Reference = ReferenceLetter(q)
			if gq.Answer != NoAnswer {
				gq.Answer = scoring.NormalizeChoice(gq.Answer)
			}
		}
		data.Questions = append(data.Questions, gq)
	}

	p, err := c.render("grading", data)
	if err != nil {
		return Prompt{}, err
	}
	p.Temperature = GradingTemperature
	return p, nil
}

func (c *Composer) render(name string, data any) (Prompt, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return Prompt{}, fmt.Errorf("no prompt template for %q", name)
	}
	var sys, user bytes.Buffer
	if err := tmpl.ExecuteTemplate(&sys, "system", data); err != nil {
		return Prompt{}, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	if err := tmpl.ExecuteTemplate(&user, "user", data); err != nil {
		return Prompt{}, fmt.Errorf("render %s user prompt: %w", name, err)
	}
	return Prompt{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

// ReferenceLetter reduces a single-choice reference answer to its option
// letter. A reference that repeats an option's text maps to that option.
func ReferenceLetter(q model.Question) string {
	ref := strings.TrimSpace(q.ReferenceAnswer)
	if ref == "" {
		return ""
	}
	for i, opt := range q.Options {
		if i >= model.OptionCount {
			break
		}
		if strings.EqualFold(ref, strings.TrimSpace(opt)) || strings.EqualFold(ref, stripOptionPrefix(opt)) {
			return string(rune('A' + i))
		}
	}
	return scoring.NormalizeChoice(ref)
}

// stripOptionPrefix turns "B) Market equilibrium" into "Market equilibrium".
func stripOptionPrefix(opt string) string {
	o := strings.TrimSpace(opt)
	if len(o) >= 2 {
		if _, ok := scoring.OptionLetter(o[0]); ok && strings.ContainsRune(").:", rune(o[1])) {
			return strings.TrimSpace(o[2:])
		}
	}
	return o
}

// KindLabel is the question-type label used in prompts and replies.
func KindLabel(k model.QuestionKind) string {
	switch k {
	case model.KindSingleChoice:
		return "MCQ"
	case model.KindShortAnswer:
		return "Short Answer"
	case model.KindLongAnswer:
		return "Long Answer"
	}
	return string(k)
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return NoAnswer
	}
	if utf8.RuneCountInString(answer) > DocumentTextLimit {
		answer = string([]rune(answer)[:DocumentTextLimit]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
