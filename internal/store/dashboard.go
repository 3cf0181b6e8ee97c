package store

import (
	"fmt"

	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/scoring"
)

// recentLimit is how many papers and evaluations the dashboard lists.
const recentLimit = 10

// Dashboard summarizes one user's papers and evaluations.
func (s *Store) Dashboard(ownerID int64) (*model.DashboardStats, error) {
	stats := &model.DashboardStats{GradeDistribution: map[string]int{}}

	err := s.db.QueryRow(`SELECT COUNT(*) FROM papers WHERE owner_id = ?`, ownerID).Scan(&stats.TotalPapers)
	if err != nil {
		return nil, fmt.Errorf("count papers: %w", err)
	}

	var avg float64
	err = s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(percentage), 0) FROM evaluations WHERE owner_id = ?`, ownerID,
	).Scan(&stats.TotalEvaluations, &avg)
	if err != nil {
		return nil, fmt.Errorf("average score: %w", err)
	}
	stats.AverageScore = scoring.Round2(avg)

	if stats.RecentPapers, err = s.ListPapers(ownerID, recentLimit); err != nil {
		return nil, fmt.Errorf("recent papers: %w", err)
	}
	if stats.RecentEvaluations, err = s.ListEvaluations(ownerID, recentLimit); err != nil {
		return nil, fmt.Errorf("recent evaluations: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT p.subject, AVG(e.percentage)
		 FROM evaluations e JOIN papers p ON p.id = e.paper_id
		 WHERE e.owner_id = ? AND p.subject != ''
		 GROUP BY p.subject ORDER BY p.subject`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("subject performance: %w", err)
	}
	defer rows.Close()
	stats.SubjectPerformance = []model.SubjectPerformance{}
	for rows.Next() {
		var sp model.SubjectPerformance
		if err := rows.Scan(&sp.Subject, &sp.AverageScore); err != nil {
			return nil, err
		}
		sp.AverageScore = scoring.Round2(sp.AverageScore)
		stats.SubjectPerformance = append(stats.SubjectPerformance, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grades, err := s.db.Query(
		`SELECT grade_letter, COUNT(*) FROM evaluations WHERE owner_id = ? GROUP BY grade_letter`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("grade distribution: %w", err)
	}
	defer grades.Close()
	for grades.Next() {
		var (
			g string
			n int
		)
		if err := grades.Scan(&g, &n); err != nil {
			return nil, err
		}
		stats.GradeDistribution[g] = n
	}
	return stats, grades.Err()
}
