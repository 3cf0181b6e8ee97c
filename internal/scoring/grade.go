// Package scoring turns submitted answers and validated grading replies into
// a final EvaluationResult. Everything here is pure and deterministic.
package scoring

// Letter grades, highest first.
const (
	GradeAStar = "A*"
	GradeA     = "A"
	GradeB     = "B"
	GradeC     = "C"
	GradeD     = "D"
	GradeE     = "E"
	GradeU     = "U"
)

var bands = []struct {
	min   float64
	grade string
}{
	{90, GradeAStar},
	{80, GradeA},
	{70, GradeB},
	{60, GradeC},
	{50, GradeD},
	{40, GradeE},
}

// Grades lists every grade the classifier can return, highest first.
func Grades() []string {
	return []string{GradeAStar, GradeA, GradeB, GradeC, GradeD, GradeE, GradeU}
}

// Classify maps a percentage to its letter grade. Band lower bounds are
// inclusive.
func Classify(percentage float64) string {
	for _, b := range bands {
		if percentage >= b.min {
			return b.grade
		}
	}
	return GradeU
}
