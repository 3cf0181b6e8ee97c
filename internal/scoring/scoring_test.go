package scoring

import (
	"reflect"
	"testing"

	"github.com/pavelanni/papergen/internal/model"
)

func ptr(v float64) *float64 { return &v }

func testPaper() model.PaperSpec {
	return model.PaperSpec{
		Mode: model.ModeDocument,
		Questions: []model.Question{
			{Number: 1, Kind: model.KindSingleChoice, Text: "q1", Marks: 2, Options: []string{"A) x", "B) y", "C) z", "D) w"}, ReferenceAnswer: "B"},
			{Number: 2, Kind: model.KindSingleChoice, Text: "q2", Marks: 2, Options: []string{"A) x", "B) y", "C) z", "D) w"}, ReferenceAnswer: "C"},
			{Number: 3, Kind: model.KindShortAnswer, Text: "q3", Marks: 5, ReferenceAnswer: "ref3"},
		},
		TotalMarks: 9,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{100, "A*"},
		{90, "A*"},
		{89.99, "A"},
		{80, "A"},
		{79.99, "B"},
		{70, "B"},
		{69.99, "C"},
		{60, "C"},
		{59.99, "D"},
		{50, "D"},
		{49.99, "E"},
		{40, "E"},
		{39.99, "U"},
		{0, "U"},
	}

	for _, tt := range tests {
		if got := Classify(tt.pct); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	rank := make(map[string]int)
	for i, g := range Grades() {
		rank[g] = i
	}
	prev := rank[Classify(0)]
	for p := 0.0; p <= 100; p += 0.25 {
		r := rank[Classify(p)]
		if r > prev {
			t.Fatalf("grade dropped at %v: %s", p, Classify(p))
		}
		prev = r
	}
}

func TestNormalizeChoice(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"B) Market equilibrium", "B"},
		{"b", "B"},
		{"  d. last option", "D"},
		{"The answer is 42", "The answer is 42"},
		{"E", "E"},
		{"  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeChoice(tt.in); got != tt.want {
				t.Errorf("NormalizeChoice(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAnswers(t *testing.T) {
	paper := testPaper()
	n := NormalizeAnswers(paper, model.SubmittedAnswers{
		1:  "b) y",
		2:  "   ",
		3:  "  Supply meets demand.  ",
		42: "stray",
	})

	want := map[int]string{1: "B", 3: "Supply meets demand."}
	if !reflect.DeepEqual(n.Answered, want) {
		t.Errorf("Answered = %v, want %v", n.Answered, want)
	}
	if !reflect.DeepEqual(n.Unanswered, []int{2}) {
		t.Errorf("Unanswered = %v, want [2]", n.Unanswered)
	}
	if !reflect.DeepEqual(n.Unknown, []int{42}) {
		t.Errorf("Unknown = %v, want [42]", n.Unknown)
	}
}

func TestNormalizeFreeTextKeepsLetters(t *testing.T) {
	paper := testPaper()
	n := NormalizeAnswers(paper, model.SubmittedAnswers{3: "b is the answer"})
	if got, _ := n.Answer(3); got != "b is the answer" {
		t.Errorf("free text answer = %q, want unchanged", got)
	}
}

func TestAggregateFillsMissing(t *testing.T) {
	paper := testPaper()
	reply := model.GradingReply{
		Feedback: []model.FeedbackItem{
			{QuestionNumber: 1, MarksObtained: ptr(2), MarksTotal: 2, Feedback: "correct"},
			{QuestionNumber: 3, MarksObtained: ptr(3.5), MarksTotal: 5, Feedback: "partial"},
		},
		OverallFeedback: "ok",
	}

	res := Aggregate(paper, reply, model.SubmittedAnswers{1: "B", 3: "something"})

	if len(res.Feedback) != 3 {
		t.Fatalf("feedback entries = %d, want 3", len(res.Feedback))
	}
	missing := res.Feedback[1]
	if missing.QuestionNumber != 2 || missing.MarksObtained != 0 || missing.Feedback != MissingFeedback {
		t.Errorf("placeholder = %+v", missing)
	}
	if missing.ReferenceAnswer != "C" {
		t.Errorf("placeholder reference = %q, want C", missing.ReferenceAnswer)
	}
	if res.TotalScore != 5.5 {
		t.Errorf("TotalScore = %v, want 5.5", res.TotalScore)
	}
	if res.TotalMarks != 9 {
		t.Errorf("TotalMarks = %d, want 9", res.TotalMarks)
	}
	if res.Percentage != 61.11 {
		t.Errorf("Percentage = %v, want 61.11", res.Percentage)
	}
	if res.Grade != "C" {
		t.Errorf("Grade = %q, want C", res.Grade)
	}
	if res.Feedback[2].SubmittedAnswer != "something" {
		t.Errorf("SubmittedAnswer = %q", res.Feedback[2].SubmittedAnswer)
	}
}

func TestAggregateEmptyReply(t *testing.T) {
	paper := testPaper()
	res := Aggregate(paper, model.GradingReply{}, nil)

	if len(res.Feedback) != len(paper.Questions) {
		t.Fatalf("feedback entries = %d, want %d", len(res.Feedback), len(paper.Questions))
	}
	for _, fb := range res.Feedback {
		if fb.MarksObtained != 0 || fb.Feedback != MissingFeedback {
			t.Errorf("question %d: %+v", fb.QuestionNumber, fb)
		}
	}
	if res.TotalScore != 0 || res.Percentage != 0 || res.Grade != "U" {
		t.Errorf("got score=%v pct=%v grade=%s", res.TotalScore, res.Percentage, res.Grade)
	}
}

func TestAggregateReconciliation(t *testing.T) {
	paper := testPaper()
	tests := []struct {
		name      string
		feedback  []model.FeedbackItem
		wantMarks []float64
	}{
		{
			name: "null marks count as zero",
			feedback: []model.FeedbackItem{
				{QuestionNumber: 1, MarksObtained: nil, MarksTotal: 2},
				{QuestionNumber: 2, MarksObtained: ptr(2), MarksTotal: 2},
				{QuestionNumber: 3, MarksObtained: ptr(5), MarksTotal: 5},
			},
			wantMarks: []float64{0, 2, 5},
		},
		{
			name: "over-award is clamped",
			feedback: []model.FeedbackItem{
				{QuestionNumber: 1, MarksObtained: ptr(7), MarksTotal: 7},
				{QuestionNumber: 2, MarksObtained: ptr(-1), MarksTotal: 2},
				{QuestionNumber: 3, MarksObtained: ptr(4), MarksTotal: 5},
			},
			wantMarks: []float64{2, 0, 4},
		},
		{
			name: "extra and duplicate entries are dropped",
			feedback: []model.FeedbackItem{
				{QuestionNumber: 3, MarksObtained: ptr(1), MarksTotal: 5},
				{QuestionNumber: 99, MarksObtained: ptr(50), MarksTotal: 50},
				{QuestionNumber: 3, MarksObtained: ptr(5), MarksTotal: 5},
				{QuestionNumber: 1, MarksObtained: ptr(2), MarksTotal: 2},
			},
			wantMarks: []float64{2, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Aggregate(paper, model.GradingReply{Feedback: tt.feedback}, nil)
			if len(res.Feedback) != len(paper.Questions) {
				t.Fatalf("feedback entries = %d", len(res.Feedback))
			}
			var sum float64
			for i, fb := range res.Feedback {
				if fb.QuestionNumber != paper.Questions[i].Number {
					t.Errorf("entry %d is question %d, want paper order", i, fb.QuestionNumber)
				}
				if fb.MarksTotal != paper.Questions[i].Marks {
					t.Errorf("question %d marks_total = %d, want %d", fb.QuestionNumber, fb.MarksTotal, paper.Questions[i].Marks)
				}
				if fb.MarksObtained != tt.wantMarks[i] {
					t.Errorf("question %d marks = %v, want %v", fb.QuestionNumber, fb.MarksObtained, tt.wantMarks[i])
				}
				sum += fb.MarksObtained
			}
			if res.TotalScore != sum {
				t.Errorf("TotalScore = %v, want sum %v", res.TotalScore, sum)
			}
			if res.Percentage < 0 || res.Percentage > 100 {
				t.Errorf("Percentage out of range: %v", res.Percentage)
			}
		})
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	paper := testPaper()
	reply := model.GradingReply{Feedback: []model.FeedbackItem{
		{QuestionNumber: 2, MarksObtained: ptr(1), MarksTotal: 2},
		{QuestionNumber: 1, MarksObtained: ptr(2), MarksTotal: 2},
	}}
	first := Aggregate(paper, reply, nil)
	for i := 0; i < 5; i++ {
		if got := Aggregate(paper, reply, nil); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v", i, got)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		score float64
		total int
		want  float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{50, 100, 50},
		{1, 3, 33.33},
		{2, 3, 66.67},
	}
	for _, tt := range tests {
		if got := Percentage(tt.score, tt.total); got != tt.want {
			t.Errorf("Percentage(%v, %d) = %v, want %v", tt.score, tt.total, got, tt.want)
		}
	}
}
