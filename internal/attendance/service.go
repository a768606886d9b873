package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Movement is the direction of an access record.
type Movement string

const (
	MovementEntry Movement = "ENTRADA"
	MovementExit  Movement = "SAIDA"
)

// DefaultReportDays is the window of the frequency report.
const DefaultReportDays = 30

var ErrInvalidMovement = errors.New("invalid movement")

// Record represents a stored access record.
type Record struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"aluno_id"`
	Movement  Movement  `json:"tipo_movimento"`
	When      time.Time `json:"data_hora"`
}

// HistoryItem is a movement joined with the student's name.
type HistoryItem struct {
	Movement    Movement  `json:"tipo_movimento"`
	When        time.Time `json:"data_hora"`
	StudentName string    `json:"nome"`
}

// Dashboard summarizes today's presence.
type Dashboard struct {
	TotalStudents int           `json:"total_alunos"`
	PresentToday  int           `json:"presentes_hoje"`
	Absent        int           `json:"ausentes"`
	Recent        []HistoryItem `json:"ultimos_acessos"`
}

// ReportFilter narrows the frequency report. A nil ClassID covers every class.
type ReportFilter struct {
	Days    int
	ClassID *int64
}

// ReportRow is one line of the frequency report.
type ReportRow struct {
	StudentName string    `json:"aluno"`
	ClassName   string    `json:"turma"`
	Movement    Movement  `json:"tipo_movimento"`
	When        time.Time `json:"data_hora"`
}

// MovementEvent is what downstream consumers receive for every committed record.
type MovementEvent struct {
	RecordID    int64     `json:"registro_id"`
	StudentID   int64     `json:"aluno_id"`
	StudentName string    `json:"aluno_nome"`
	ClassID     *int64    `json:"turma_id"`
	Movement    Movement  `json:"tipo_movimento"`
	When        time.Time `json:"data_hora"`
}

// Feed receives committed movements. Implementations must not block for long.
type Feed interface {
	PublishMovement(ctx context.Context, evt MovementEvent) error
}

// Store is the persistence the service needs.
type Store interface {
	InsertRecord(ctx context.Context, studentID int64, m Movement) (Record, error)
}

// Student identifies who moved.
type Student struct {
	ID      int64
	Name    string
	ClassID *int64
}

// Service appends access records and forwards them to the movement feed.
type Service struct {
	store Store
	feed  Feed
}

// NewService creates a service backed by a store. feed may be nil.
func NewService(store Store, feed Feed) *Service {
	return &Service{store: store, feed: feed}
}

// Record appends one movement for the student. Feed failures are logged and
// never reported to the caller; the record is already committed at that point.
func (s *Service) Record(ctx context.Context, st Student, m Movement) (Record, error) {
	if m != MovementEntry && m != MovementExit {
		return Record{}, ErrInvalidMovement
	}
	rec, err := s.store.InsertRecord(ctx, st.ID, m)
	if err != nil {
		return Record{}, err
	}
	if s.feed != nil {
		evt := MovementEvent{
			RecordID:    rec.ID,
			StudentID:   st.ID,
			StudentName: st.Name,
			ClassID:     st.ClassID,
			Movement:    m,
			When:        rec.When,
		}
		if err := s.feed.PublishMovement(ctx, evt); err != nil {
			slog.Warn("movement feed publish failed", "student_id", st.ID, "movement", m, "error", err)
		}
	}
	return rec, nil
}
