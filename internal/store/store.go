package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/papergen/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS papers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		mode TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		chapter TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		total_marks INTEGER NOT NULL,
		spec TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_papers_owner ON papers(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		paper_id INTEGER NOT NULL,
		answers TEXT NOT NULL,
		total_score REAL NOT NULL,
		total_marks INTEGER NOT NULL,
		percentage REAL NOT NULL,
		grade_letter TEXT NOT NULL,
		result TEXT NOT NULL,
		evaluated_at DATETIME NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id),
		FOREIGN KEY (paper_id) REFERENCES papers(id)
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_owner ON evaluations(owner_id, evaluated_at);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		expires_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreatePaper stores a validated paper and returns its ID.
func (s *Store) CreatePaper(p model.Paper) (int64, error) {
	spec, err := json.Marshal(p.Spec)
	if err != nil {
		return 0, fmt.Errorf("encode paper: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO papers (owner_id, mode, grade, subject, chapter, topic, source_name, total_marks, spec, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OwnerID, p.Spec.Mode, p.Grade, p.Subject, p.Chapter, p.Topic, p.SourceName, p.Spec.TotalMarks, string(spec), p.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPaper returns a paper by ID, or nil if it does not exist.
func (s *Store) GetPaper(id int64) (*model.Paper, error) {
	var (
		p    model.Paper
		spec string
	)
	err := s.db.QueryRow(
		`SELECT id, owner_id, grade, subject, chapter, topic, source_name, spec, created_at
		 FROM papers WHERE id = ?`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Grade, &p.Subject, &p.Chapter, &p.Topic, &p.SourceName, &spec, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(spec), &p.Spec); err != nil {
		return nil, fmt.Errorf("decode paper %d: %w", id, err)
	}
	return &p, nil
}

// ListPapers returns an owner's papers, newest first. A limit of 0 returns
// all of them.
func (s *Store) ListPapers(ownerID int64, limit int) ([]model.PaperSummary, error) {
	q := `SELECT id, mode, grade, subject, chapter, topic, source_name, total_marks, created_at
		  FROM papers WHERE owner_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	papers := []model.PaperSummary{}
	for rows.Next() {
		var p model.PaperSummary
		if err := rows.Scan(&p.ID, &p.Mode, &p.Grade, &p.Subject, &p.Chapter, &p.Topic, &p.SourceName, &p.TotalMarks, &p.CreatedAt); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// CreateEvaluation stores a graded submission and returns its ID.
func (s *Store) CreateEvaluation(e model.Evaluation) (int64, error) {
	answers, err := json.Marshal(e.Answers)
	if err != nil {
		return 0, fmt.Errorf("encode answers: %w", err)
	}
	result, err := json.Marshal(e.Result)
	if err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO evaluations (owner_id, paper_id, answers, total_score, total_marks, percentage, grade_letter, result, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerID, e.PaperID, string(answers), e.Result.TotalScore, e.Result.TotalMarks,
		e.Result.Percentage, e.Result.Grade, string(result), e.EvaluatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetEvaluation returns an evaluation by ID, or nil if it does not exist.
func (s *Store) GetEvaluation(id int64) (*model.Evaluation, error) {
	var (
		e               model.Evaluation
		answers, result string
	)
	err := s.db.QueryRow(
		`SELECT id, owner_id, paper_id, answers, result, evaluated_at FROM evaluations WHERE id = ?`, id,
	).Scan(&e.ID, &e.OwnerID, &e.PaperID, &answers, &result, &e.EvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &e.Answers); err != nil {
		return nil, fmt.Errorf("decode answers %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
		return nil, fmt.Errorf("decode result %d: %w", id, err)
	}
	return &e, nil
}

// ListEvaluations returns an owner's evaluations, newest first. A limit of 0
// returns all of them.
func (s *Store) ListEvaluations(ownerID int64, limit int) ([]model.EvaluationSummary, error) {
	q := `SELECT id, paper_id, total_score, total_marks, percentage, grade_letter, evaluated_at
		  FROM evaluations WHERE owner_id = ? ORDER BY evaluated_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	evals := []model.EvaluationSummary{}
	for rows.Next() {
		var e model.EvaluationSummary
		if err := rows.Scan(&e.ID, &e.PaperID, &e.Score, &e.TotalMarks, &e.Percentage, &e.Grade, &e.EvaluatedAt); err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}
