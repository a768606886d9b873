package badge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fernandonovaluz/escola-backend/internal/directory"
)

type fakeLookup struct {
	students  []directory.Student
	guardians []directory.Guardian

	studentCalls  int
	guardianCalls int
	err           error
}

func (f *fakeLookup) FindStudentByBadge(_ context.Context, code string) (*directory.Student, error) {
	f.studentCalls++
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.students {
		if f.students[i].BadgeCode == code {
			s := f.students[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeLookup) FindGuardianByBadge(_ context.Context, code string) (*directory.Guardian, error) {
	f.guardianCalls++
	for i := range f.guardians {
		if f.guardians[i].BadgeCode == code {
			g := f.guardians[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (f *fakeLookup) GetStudent(_ context.Context, id int64) (directory.Student, error) {
	for _, s := range f.students {
		if s.ID == id {
			return s, nil
		}
	}
	return directory.Student{}, directory.ErrStudentNotFound
}

func classRef(id int64) *int64 { return &id }

func newFixture() *fakeLookup {
	return &fakeLookup{
		students: []directory.Student{
			{ID: 1, Name: "A", ClassID: classRef(5), BadgeCode: "ALUNO-123"},
			{ID: 2, Name: "B", ClassID: classRef(7), BadgeCode: "ALUNO-777"},
			{ID: 3, Name: "First", ClassID: classRef(5), BadgeCode: "DUP"},
			{ID: 4, Name: "Second", ClassID: classRef(5), BadgeCode: "DUP"},
		},
		guardians: []directory.Guardian{
			{ID: 10, Name: "Mãe de B", BadgeCode: "PAI-456", StudentID: 2},
			{ID: 11, Name: "Orphan", BadgeCode: "PAI-000", StudentID: 99},
			{ID: 12, Name: "Shadowed", BadgeCode: "ALUNO-123", StudentID: 2},
		},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantKind    Kind
		wantStudent string
		wantErr     error
	}{
		{name: "student_badge", code: "ALUNO-123", wantKind: KindStudent, wantStudent: "A"},
		{name: "student_badge_with_scanner_newline", code: "ALUNO-123\n", wantKind: KindStudent, wantStudent: "A"},
		{name: "guardian_badge_resolves_child", code: "PAI-456", wantKind: KindGuardian, wantStudent: "B"},
		{name: "unknown_badge", code: "XYZ", wantErr: ErrNotFound},
		{name: "empty_badge", code: "   ", wantErr: ErrEmptyCode},
		{name: "guardian_with_missing_student", code: "PAI-000", wantErr: ErrBrokenLink},
		{name: "duplicate_student_codes_first_wins", code: "DUP", wantKind: KindStudent, wantStudent: "First"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFixture())
			res, err := r.Resolve(context.Background(), tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Kind != tt.wantKind {
				t.Fatalf("expected kind %s, got %s", tt.wantKind, res.Kind)
			}
			if res.Student.Name != tt.wantStudent {
				t.Fatalf("expected student %s, got %s", tt.wantStudent, res.Student.Name)
			}
			if tt.wantKind == KindGuardian && (res.Guardian == nil || res.Student.ClassID == nil || *res.Student.ClassID != 7) {
				t.Fatalf("guardian resolution missing guardian or class: %+v", res)
			}
		})
	}
}

func TestResolveStudentShortCircuitsGuardianLookup(t *testing.T) {
	lookup := newFixture()
	r := NewResolver(lookup)

	res, err := r.Resolve(context.Background(), "ALUNO-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Guardian != nil {
		t.Fatalf("student match must not carry a guardian")
	}
	if lookup.guardianCalls != 0 {
		t.Fatalf("expected no guardian lookup, got %d", lookup.guardianCalls)
	}
}

func TestResolveEmptyCodeDoesNotQuery(t *testing.T) {
	lookup := newFixture()
	if _, err := NewResolver(lookup).Resolve(context.Background(), ""); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
	if lookup.studentCalls != 0 {
		t.Fatalf("expected no lookups for an empty code")
	}
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	lookup := newFixture()
	lookup.err = errors.New("connection reset")
	_, err := NewResolver(lookup).Resolve(context.Background(), "ALUNO-123")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a store error, got %v", err)
	}
}

func TestCodesUseDisjointPrefixes(t *testing.T) {
	s, g := NewStudentCode(), NewGuardianCode()
	if !strings.HasPrefix(s, "ALUNO-") || !strings.HasPrefix(g, "PAI-") {
		t.Fatalf("unexpected codes %s %s", s, g)
	}
	if NewStudentCode() == s {
		t.Fatalf("expected fresh codes on each call")
	}
}

func TestPNG(t *testing.T) {
	img, err := PNG("ALUNO-123", 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("expected png signature")
	}
	if _, err := PNG("", 256); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
}
