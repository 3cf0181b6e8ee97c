package store

import (
	"fmt"

	"github.com/pavelanni/papergen/internal/model"
)

// ExportEvaluations builds export-ready results for every stored evaluation,
// oldest first.
func (s *Store) ExportEvaluations() ([]model.StudentResult, error) {
	rows, err := s.db.Query(
		`SELECT e.id, COALESCE(u.username, ''), e.paper_id, p.mode, p.subject, p.source_name,
		        e.total_score, e.total_marks, e.percentage, e.grade_letter, e.evaluated_at
		 FROM evaluations e
		 JOIN papers p ON p.id = e.paper_id
		 LEFT JOIN users u ON u.id = e.owner_id
		 ORDER BY e.evaluated_at, e.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	results := []model.StudentResult{}
	for rows.Next() {
		var r model.StudentResult
		if err := rows.Scan(&r.EvaluationID, &r.Username, &r.PaperID, &r.Mode, &r.Subject, &r.SourceName,
			&r.TotalScore, &r.TotalMarks, &r.Percentage, &r.Grade, &r.EvaluatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
