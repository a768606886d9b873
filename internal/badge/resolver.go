// Package badge turns scanned QR codes into the identity they were issued to.
package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fernandonovaluz/escola-backend/internal/directory"
)

// Kind tells which namespace a code was found in.
type Kind string

const (
	KindStudent  Kind = "aluno"
	KindGuardian Kind = "responsavel"
)

var (
	ErrEmptyCode  = errors.New("badge code not provided")
	ErrNotFound   = errors.New("badge code not registered")
	ErrBrokenLink = errors.New("guardian linked to a missing student")
)

// Lookup is the read side of the directory the resolver needs.
type Lookup interface {
	FindStudentByBadge(ctx context.Context, code string) (*directory.Student, error)
	FindGuardianByBadge(ctx context.Context, code string) (*directory.Guardian, error)
	GetStudent(ctx context.Context, id int64) (directory.Student, error)
}

// Resolution is the identity behind a code. Guardian is set only for
// KindGuardian; Student is always the child concerned.
type Resolution struct {
	Kind     Kind
	Student  directory.Student
	Guardian *directory.Guardian
}

// Resolver maps badge codes to students or guardians. It never writes.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a resolver over lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve checks the student namespace first and only falls back to guardians
// when no student carries the code.
func (r *Resolver) Resolve(ctx context.Context, code string) (Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Resolution{}, ErrEmptyCode
	}

	st, err := r.lookup.FindStudentByBadge(ctx, code)
	if err != nil {
		return Resolution{}, fmt.Errorf("student lookup: %w", err)
	}
	if st != nil {
		return Resolution{Kind: KindStudent, Student: *st}, nil
	}

	g, err := r.lookup.FindGuardianByBadge(ctx, code)
	if err != nil {
		return Resolution{}, fmt.Errorf("guardian lookup: %w", err)
	}
	if g == nil {
		return Resolution{}, ErrNotFound
	}

	child, err := r.lookup.GetStudent(ctx, g.StudentID)
	if err != nil {
		if errors.Is(err, directory.ErrStudentNotFound) {
			return Resolution{}, fmt.Errorf("guardian %d -> student %d: %w", g.ID, g.StudentID, ErrBrokenLink)
		}
		return Resolution{}, fmt.Errorf("linked student lookup: %w", err)
	}
	return Resolution{Kind: KindGuardian, Student: child, Guardian: g}, nil
}
