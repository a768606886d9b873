package directory

import "errors"

// RoleTeacher marks staff accounts that own a class.
const RoleTeacher = "professora"

// DefaultRelationship is the label given to guardians created at enrollment.
const DefaultRelationship = "Responsável"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStudentNotFound    = errors.New("student not found")
	ErrMissingField       = errors.New("missing required field")
)

// Student is an enrolled child. ClassID is nil while unassigned.
type Student struct {
	ID        int64  `json:"id"`
	Name      string `json:"nome"`
	ClassID   *int64 `json:"turma_id"`
	BadgeCode string `json:"qr_code"`
}

// Guardian is an adult authorized to pick up exactly one student.
type Guardian struct {
	ID           int64  `json:"id"`
	Name         string `json:"nome"`
	Relationship string `json:"parentesco"`
	Phone        string `json:"telefone"`
	BadgeCode    string `json:"qr_code"`
	StudentID    int64  `json:"aluno_id"`
}

// Class is a classroom with an optional assigned teacher.
type Class struct {
	ID          int64   `json:"id"`
	Name        string  `json:"nome"`
	TeacherID   *int64  `json:"professora_id"`
	TeacherName *string `json:"nome_professora,omitempty"`
}

// Teacher is a staff account. The credential never leaves the package as JSON.
type Teacher struct {
	ID       int64  `json:"id"`
	Name     string `json:"nome"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"perfil,omitempty"`
	Password string `json:"-"`
}

// RosterEntry is one row of the student listing shown on the admin console.
type RosterEntry struct {
	ID            int64   `json:"id"`
	Name          string  `json:"nome"`
	ClassName     string  `json:"nome_turma"`
	TeacherName   string  `json:"nome_professora"`
	BadgeCode     string  `json:"qr_code"`
	GuardianName  *string `json:"nome_responsavel"`
	GuardianBadge *string `json:"qr_pai"`
}

// NewEnrollment carries everything needed to register a student and the
// guardian linked to them. Badge codes are generated by the caller.
type NewEnrollment struct {
	StudentName   string
	ClassID       *int64
	GuardianName  string
	GuardianPhone string
	StudentCode   string
	GuardianCode  string
}

// Enrollment is the result of a committed NewEnrollment.
type Enrollment struct {
	StudentID    int64  `json:"aluno_id"`
	GuardianID   int64  `json:"responsavel_id"`
	StudentCode  string `json:"qr_aluno"`
	GuardianCode string `json:"qr_pai"`
}
