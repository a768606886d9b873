package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/fernandonovaluz/escola-backend/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository persists students, guardians, classes and staff in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudentByBadge returns the first student carrying code, or nil when none does.
func (r *Repository) FindStudentByBadge(ctx context.Context, code string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, nome, turma_id, qr_code_hash
		FROM alunos
		WHERE qr_code_hash = $1
		ORDER BY id
		LIMIT 1
	`, code)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.ClassID, &s.BadgeCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindGuardianByBadge returns the first guardian carrying code, or nil when none does.
func (r *Repository) FindGuardianByBadge(ctx context.Context, code string) (*Guardian, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, nome, parentesco, COALESCE(telefone, ''), qr_code_hash, aluno_id
		FROM responsaveis
		WHERE qr_code_hash = $1
		ORDER BY id
		LIMIT 1
	`, code)
	var g Guardian
	if err := row.Scan(&g.ID, &g.Name, &g.Relationship, &g.Phone, &g.BadgeCode, &g.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// GetStudent loads a student by id. Missing students yield ErrStudentNotFound.
func (r *Repository) GetStudent(ctx context.Context, id int64) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, nome, turma_id, qr_code_hash FROM alunos WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.ClassID, &s.BadgeCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, err
	}
	return s, nil
}

// Roster lists students with their class, teacher and guardian badge.
// A nil classID lists every student.
func (r *Repository) Roster(ctx context.Context, classID *int64) ([]RosterEntry, error) {
	query := psql.Select(
		"a.id",
		"a.nome",
		"COALESCE(t.nome, 'Sem Turma')",
		"COALESCE(u.nome, 'Sem Prof')",
		"a.qr_code_hash",
		"r.nome",
		"r.qr_code_hash",
	).
		From("alunos a").
		LeftJoin("responsaveis r ON a.id = r.aluno_id").
		LeftJoin("turmas t ON a.turma_id = t.id").
		LeftJoin("usuarios u ON t.professora_id = u.id").
		OrderBy("a.nome ASC")
	if classID != nil {
		query = query.Where(sq.Eq{"a.turma_id": *classID})
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

	res := []RosterEntry{}
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.ClassName, &e.TeacherName, &e.BadgeCode, &e.GuardianName, &e.GuardianBadge); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Enroll creates a student and its guardian in a single transaction so a
// failed guardian insert never leaves an orphan student behind.
func (r *Repository) Enroll(ctx context.Context, in NewEnrollment) (Enrollment, error) {
	if strings.TrimSpace(in.StudentName) == "" || strings.TrimSpace(in.GuardianName) == "" {
		return Enrollment{}, fmt.Errorf("student and guardian names: %w", ErrMissingField)
	}
	if in.StudentCode == "" || in.GuardianCode == "" {
		return Enrollment{}, fmt.Errorf("badge codes: %w", ErrMissingField)
	}

	out := Enrollment{StudentCode: in.StudentCode, GuardianCode: in.GuardianCode}
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO alunos (nome, turma_id, qr_code_hash)
			VALUES ($1, $2, $3)
			RETURNING id
		`, in.StudentName, in.ClassID, in.StudentCode).Scan(&out.StudentID); err != nil {
			return fmt.Errorf("insert student: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO responsaveis (nome, parentesco, telefone, aluno_id, qr_code_hash)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, in.GuardianName, DefaultRelationship, in.GuardianPhone, out.StudentID, in.GuardianCode).Scan(&out.GuardianID); err != nil {
			return fmt.Errorf("insert guardian: %w", err)
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}
	return out, nil
}

// CreateTeacher registers a teacher account.
func (r *Repository) CreateTeacher(ctx context.Context, t Teacher) (Teacher, error) {
	if t.Name == "" || t.Email == "" || t.Password == "" {
		return Teacher{}, fmt.Errorf("teacher name, email and password: %w", ErrMissingField)
	}
	t.Role = RoleTeacher
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO usuarios (nome, email, senha, perfil)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, t.Name, t.Email, t.Password, t.Role).Scan(&t.ID)
	if err != nil {
		return Teacher{}, err
	}
	t.Password = ""
	return t, nil
}

// ListTeachers returns every account with the teacher role.
func (r *Repository) ListTeachers(ctx context.Context) ([]Teacher, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, nome FROM usuarios WHERE perfil = $1 ORDER BY nome
	`, RoleTeacher)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Teacher{}
	for rows.Next() {
		var t Teacher
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CreateClass registers a class, optionally assigned to a teacher.
func (r *Repository) CreateClass(ctx context.Context, c Class) (Class, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Class{}, fmt.Errorf("class name: %w", ErrMissingField)
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO turmas (nome, professora_id) VALUES ($1, $2) RETURNING id
	`, c.Name, c.TeacherID).Scan(&c.ID)
	if err != nil {
		return Class{}, err
	}
	return c, nil
}

// ListClasses returns every class with its teacher's name when assigned.
func (r *Repository) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.nome, t.professora_id, u.nome
		FROM turmas t
		LEFT JOIN usuarios u ON t.professora_id = u.id
		ORDER BY t.nome
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Class{}
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.TeacherID, &c.TeacherName); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Authenticate looks up a staff account by email and credential.
func (r *Repository) Authenticate(ctx context.Context, email, password string) (Teacher, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, nome, email, perfil FROM usuarios WHERE email = $1 AND senha = $2
	`, email, password)
	var t Teacher
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Teacher{}, ErrInvalidCredentials
		}
		return Teacher{}, err
	}
	return t, nil
}
