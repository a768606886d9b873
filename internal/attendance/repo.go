package attendance

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository persists access records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertRecord appends a movement. Records are never updated afterwards.
func (r *Repository) InsertRecord(ctx context.Context, studentID int64, m Movement) (Record, error) {
	rec := Record{StudentID: studentID, Movement: m}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO registros_acesso (aluno_id, tipo_movimento)
		VALUES ($1, $2)
		RETURNING id, data_hora
	`, studentID, string(m))
	if err := row.Scan(&rec.ID, &rec.When); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Today returns the latest movements of the current day.
func (r *Repository) Today(ctx context.Context, limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.tipo_movimento, r.data_hora, a.nome
		FROM registros_acesso r
		JOIN alunos a ON r.aluno_id = a.id
		WHERE r.data_hora::date = CURRENT_DATE
		ORDER BY r.data_hora DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

// Dashboard aggregates today's presence figures.
func (r *Repository) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alunos`).Scan(&d.TotalStudents); err != nil {
		return Dashboard{}, err
	}
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT aluno_id) FROM registros_acesso
		WHERE tipo_movimento = $1 AND data_hora::date = CURRENT_DATE
	`, string(MovementEntry)).Scan(&d.PresentToday); err != nil {
		return Dashboard{}, err
	}
	d.Absent = d.TotalStudents - d.PresentToday
	if d.Absent < 0 {
		d.Absent = 0
	}

	recent, err := r.Today(ctx, 5)
	if err != nil {
		return Dashboard{}, err
	}
	d.Recent = recent
	return d, nil
}

// FrequencyReport lists movements of the last filter.Days days, newest first.
func (r *Repository) FrequencyReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	days := filter.Days
	if days <= 0 {
		days = DefaultReportDays
	}
	query := psql.Select("a.nome", "t.nome", "r.tipo_movimento", "r.data_hora").
		From("registros_acesso r").
		Join("alunos a ON r.aluno_id = a.id").
		Join("turmas t ON a.turma_id = t.id").
		Where("r.data_hora::date >= CURRENT_DATE - (? * interval '1 day')", float64(days)).
		OrderBy("r.data_hora DESC")
	if filter.ClassID != nil {
		query = query.Where(sq.Eq{"a.turma_id": *filter.ClassID})
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []ReportRow{}
	for rows.Next() {
		var row ReportRow
		var m string
		if err := rows.Scan(&row.StudentName, &row.ClassName, &m, &row.When); err != nil {
			return nil, err
		}
		row.Movement = Movement(m)
		res = append(res, row)
	}
	return res, rows.Err()
}

func scanHistory(rows *sql.Rows) ([]HistoryItem, error) {
	res := []HistoryItem{}
	for rows.Next() {
		var (
			item HistoryItem
			m    string
			when time.Time
		)
		if err := rows.Scan(&m, &when, &item.StudentName); err != nil {
			return nil, err
		}
		item.Movement = Movement(m)
		item.When = when
		res = append(res, item)
	}
	return res, rows.Err()
}
