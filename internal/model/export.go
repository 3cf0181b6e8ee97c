package model

import "time"

// EvaluationExport is the top-level structure of an evaluation export.
type EvaluationExport struct {
	ExportedAt time.Time       `json:"exported_at" yaml:"exported_at"`
	Count      int             `json:"count" yaml:"count"`
	Results    []StudentResult `json:"results" yaml:"results"`
}

// StudentResult holds one evaluation with its owner and paper metadata.
type StudentResult struct {
	EvaluationID int64     `json:"evaluation_id" yaml:"evaluation_id"`
	Username     string    `json:"username" yaml:"username"`
	PaperID      int64     `json:"paper_id" yaml:"paper_id"`
	Mode         Mode      `json:"mode" yaml:"mode"`
	Subject      string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	SourceName   string    `json:"source_name,omitempty" yaml:"source_name,omitempty"`
	TotalScore   float64   `json:"total_score" yaml:"total_score"`
	TotalMarks   int       `json:"total_marks" yaml:"total_marks"`
	Percentage   float64   `json:"percentage" yaml:"percentage"`
	Grade        string    `json:"grade_letter" yaml:"grade_letter"`
	EvaluatedAt  time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// DashboardStats summarizes one user's papers and evaluations.
type DashboardStats struct {
	TotalPapers        int                  `json:"total_papers"`
	TotalEvaluations   int                  `json:"total_evaluations"`
	AverageScore       float64              `json:"average_score"`
	RecentPapers       []PaperSummary       `json:"recent_papers"`
	RecentEvaluations  []EvaluationSummary  `json:"recent_evaluations"`
	SubjectPerformance []SubjectPerformance `json:"subject_performance"`
	GradeDistribution  map[string]int       `json:"grade_distribution"`
}

// PaperSummary is a listing row for a paper.
type PaperSummary struct {
	ID         int64     `json:"id"`
	Mode       Mode      `json:"type"`
	Grade      string    `json:"grade,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Chapter    string    `json:"chapter,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	SourceName string    `json:"source_name,omitempty"`
	TotalMarks int       `json:"total_marks"`
	CreatedAt  time.Time `json:"created_at"`
}

// EvaluationSummary is a listing row for an evaluation.
type EvaluationSummary struct {
	ID          int64     `json:"id"`
	PaperID     int64     `json:"paper_id"`
	Score       float64   `json:"score"`
	TotalMarks  int       `json:"total_marks"`
	Percentage  float64   `json:"percentage"`
	Grade       string    `json:"grade"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// SubjectPerformance is the average percentage for one subject.
type SubjectPerformance struct {
	Subject      string  `json:"subject"`
	AverageScore float64 `json:"average_score"`
}
