package lessonplan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ErrClassRequired = errors.New("class id required")
	ErrInvalidDate   = errors.New("invalid agenda date")
)

// Entry is one daily plan submission for a class. Several entries may share
// the same class and date.
type Entry struct {
	ID         int64  `json:"id"`
	ClassID    int64  `json:"turma_id"`
	Date       string `json:"data_agenda"`
	Plan       string `json:"planejamento"`
	Activity   string `json:"atividade"`
	Homework   string `json:"para_casa"`
	GeneralMsg string `json:"recado_geral"`
}

// Overview is an entry joined with its class and teacher for the board listing.
type Overview struct {
	Entry
	ClassName   string `json:"nome_turma"`
	TeacherName string `json:"nome_professora"`
}

// Repository persists lesson plans in Postgres.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create stores an entry. An empty date means today.
func (r *Repository) Create(ctx context.Context, e Entry) (Entry, error) {
	if e.ClassID <= 0 {
		return Entry{}, ErrClassRequired
	}
	if e.Date == "" {
		e.Date = r.now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, e.Date); err != nil {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidDate, e.Date)
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO agenda_diaria (turma_id, planejamento, atividade, para_casa, recado_geral, data_agenda)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.ClassID, e.Plan, e.Activity, e.Homework, e.GeneralMsg, e.Date).Scan(&e.ID)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Recent lists the latest entries, newest date first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Overview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.turma_id, a.data_agenda,
		       COALESCE(a.planejamento, ''), COALESCE(a.atividade, ''),
		       COALESCE(a.para_casa, ''), COALESCE(a.recado_geral, ''),
		       t.nome, COALESCE(u.nome, 'Sem Prof')
		FROM agenda_diaria a
		JOIN turmas t ON a.turma_id = t.id
		LEFT JOIN usuarios u ON t.professora_id = u.id
		ORDER BY a.data_agenda DESC, t.nome ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Overview{}
	for rows.Next() {
		var (
			o    Overview
			date time.Time
		)
		if err := rows.Scan(&o.ID, &o.ClassID, &date, &o.Plan, &o.Activity, &o.Homework, &o.GeneralMsg, &o.ClassName, &o.TeacherName); err != nil {
			return nil, err
		}
		o.Date = date.Format(dateLayout)
		res = append(res, o)
	}
	return res, rows.Err()
}
