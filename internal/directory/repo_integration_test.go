package directory_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/directory"
	"github.com/fernandonovaluz/escola-backend/internal/store"
)

func openDB(t *testing.T) *store.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, dsn)
	t.Cleanup(func() { _ = db.Close() })
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := store.MigrateUp(ctx, db.Client); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEnrollAndResolve(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := directory.NewRepository(db.Client)

	class, err := repo.CreateClass(ctx, directory.Class{Name: "Integração " + time.Now().Format("150405.000")})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}

	in := directory.NewEnrollment{
		StudentName:   "Aluno Teste",
		ClassID:       &class.ID,
		GuardianName:  "Responsável Teste",
		GuardianPhone: "11999990000",
		StudentCode:   badge.NewStudentCode(),
		GuardianCode:  badge.NewGuardianCode(),
	}
	out, err := repo.Enroll(ctx, in)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	resolver := badge.NewResolver(repo)
	res, err := resolver.Resolve(ctx, out.GuardianCode)
	if err != nil {
		t.Fatalf("resolve guardian: %v", err)
	}
	if res.Kind != badge.KindGuardian || res.Student.ID != out.StudentID || *res.Student.ClassID != class.ID {
		t.Fatalf("unexpected resolution %+v", res)
	}

	res, err = resolver.Resolve(ctx, out.StudentCode)
	if err != nil || res.Kind != badge.KindStudent {
		t.Fatalf("resolve student: %+v %v", res, err)
	}

	rec, err := attendance.NewRepository(db.Client).InsertRecord(ctx, out.StudentID, attendance.MovementEntry)
	if err != nil || rec.ID == 0 || rec.When.IsZero() {
		t.Fatalf("insert record: %+v %v", rec, err)
	}

	roster, err := repo.Roster(ctx, &class.ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 || roster[0].GuardianBadge == nil || *roster[0].GuardianBadge != out.GuardianCode {
		t.Fatalf("unexpected roster %+v", roster)
	}
}

func TestEnrollWithUnknownClassLeavesNothing(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := directory.NewRepository(db.Client)

	code := badge.NewStudentCode()
	_, err := repo.Enroll(ctx, directory.NewEnrollment{
		StudentName:  "Órfão",
		GuardianName: "Responsável",
		StudentCode:  code,
		GuardianCode: badge.NewGuardianCode(),
		ClassID:      func() *int64 { id := int64(-1); return &id }(),
	})
	if err == nil {
		t.Fatalf("expected enrollment to fail")
	}

	st, err := repo.FindStudentByBadge(ctx, code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if st != nil {
		t.Fatalf("failed enrollment left student %+v behind", st)
	}
}

func TestAuthenticate(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := directory.NewRepository(db.Client)

	email := "prof" + time.Now().Format("150405.000000") + "@escola.test"
	if _, err := repo.CreateTeacher(ctx, directory.Teacher{Name: "Prof", Email: email, Password: "s3nha"}); err != nil {
		t.Fatalf("create teacher: %v", err)
	}
	got, err := repo.Authenticate(ctx, email, "s3nha")
	if err != nil || got.Role != directory.RoleTeacher {
		t.Fatalf("authenticate: %+v %v", got, err)
	}
	if _, err := repo.Authenticate(ctx, email, "errada"); !errors.Is(err, directory.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
