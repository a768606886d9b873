// Package pickup coordinates front-desk scans with the class teacher's
// decision on whether a student may leave with a guardian.
package pickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/metrics"
	"github.com/fernandonovaluz/escola-backend/internal/realtime"
)

// Decision statuses. Anything other than StatusReleased holds the student.
const (
	StatusReleased  = "liberado"
	StatusExpired   = "expirado"
	StatusCancelled = "cancelado"
)

// Scan kinds returned to the kiosk.
const (
	ScanEntry    = "entrada"
	ScanAwaiting = "aguardando"
)

const (
	DefaultTTL           = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Resolver maps badge codes to identities.
type Resolver interface {
	Resolve(ctx context.Context, code string) (badge.Resolution, error)
}

// Recorder appends access records.
type Recorder interface {
	Record(ctx context.Context, st attendance.Student, m attendance.Movement) (attendance.Record, error)
}

// Publisher delivers events to a realtime room.
type Publisher interface {
	Publish(room string, evt realtime.Event)
}

// ScanResult is what the kiosk shows after a scan.
type ScanResult struct {
	Kind         string
	StudentID    int64
	StudentName  string
	GuardianName string
	ClassID      *int64
	RecordedAt   time.Time
}

// Decision is a teacher's answer to a release request.
type Decision struct {
	StudentID    int64  `json:"aluno_id"`
	StudentName  string `json:"aluno_nome,omitempty"`
	GuardianName string `json:"responsavel_nome,omitempty"`
	Status       string `json:"status"`
}

// Outcome is published to the front desk for every decision, expiry and
// cancellation. Registered is true only when an exit was stored.
type Outcome struct {
	Decision
	Registered bool   `json:"registrado"`
	Error      string `json:"erro,omitempty"`
}

// Options tunes the pending-release lifetime. A nil Store keeps requests in
// process memory, which only suits a single instance.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Store         Store
}

// Coordinator runs the guardian pickup handshake.
type Coordinator struct {
	resolver Resolver
	recorder Recorder
	pub      Publisher
	pending  Store

	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time
}

// NewCoordinator wires the handshake. Zero options take the defaults.
func NewCoordinator(resolver Resolver, recorder Recorder, pub Publisher, opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	return &Coordinator{
		resolver: resolver,
		recorder: recorder,
		pub:      pub,
		pending:  opts.Store,
		ttl:      opts.TTL,
		sweep:    opts.SweepInterval,
		now:      opts.Now,
	}
}

// Scan handles one badge read at the front desk.
func (c *Coordinator) Scan(ctx context.Context, code string) (ScanResult, error) {
	res, err := c.resolver.Resolve(ctx, code)
	if err != nil {
		metrics.Scans.WithLabelValues(scanFailure(err)).Inc()
		return ScanResult{}, err
	}

	var out ScanResult
	switch res.Kind {
	case badge.KindStudent:
		out, err = c.admit(ctx, res)
	case badge.KindGuardian:
		out, err = c.requestRelease(ctx, res)
	default:
		err = fmt.Errorf("unexpected badge kind %q", res.Kind)
	}
	if err != nil {
		metrics.Scans.WithLabelValues(scanFailure(err)).Inc()
		return ScanResult{}, err
	}
	metrics.Scans.WithLabelValues(out.Kind).Inc()
	return out, nil
}

func (c *Coordinator) admit(ctx context.Context, res badge.Resolution) (ScanResult, error) {
	st := res.Student
	rec, err := c.recorder.Record(ctx, attendance.Student{ID: st.ID, Name: st.Name, ClassID: st.ClassID}, attendance.MovementEntry)
	if err != nil {
		return ScanResult{}, fmt.Errorf("record entry for student %d: %w", st.ID, err)
	}

	if st.ClassID == nil {
		slog.Warn("entry recorded for student without class; no room notified", "student_id", st.ID)
	} else {
		c.pub.Publish(realtime.ClassRoom(*st.ClassID), realtime.Event{
			Name: realtime.EventClassUpdate,
			Data: map[string]any{
				"tipo":      attendance.MovementEntry,
				"aluno":     map[string]any{"id": st.ID, "nome": st.Name},
				"data_hora": rec.When,
			},
		})
	}
	slog.Info("student entry recorded", "student_id", st.ID, "record_id", rec.ID)

	return ScanResult{
		Kind:        ScanEntry,
		StudentID:   st.ID,
		StudentName: st.Name,
		ClassID:     st.ClassID,
		RecordedAt:  rec.When,
	}, nil
}

func (c *Coordinator) requestRelease(ctx context.Context, res badge.Resolution) (ScanResult, error) {
	st := res.Student
	if st.ClassID == nil {
		slog.Warn("guardian scanned for student without class", "student_id", st.ID, "guardian_id", res.Guardian.ID)
		return ScanResult{}, ErrUnassignedClass
	}

	now := c.now()
	room := realtime.ClassRoom(*st.ClassID)
	entry, refreshed, err := c.pending.Put(ctx, PendingRelease{
		StudentID:    st.ID,
		StudentName:  st.Name,
		GuardianName: res.Guardian.Name,
		ClassID:      *st.ClassID,
		Room:         room,
		RequestedAt:  now,
		ExpiresAt:    now.Add(c.ttl),
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("hold release for student %d: %w", st.ID, err)
	}
	c.gauge(ctx)

	c.pub.Publish(room, realtime.Event{
		Name: realtime.EventReleaseRequest,
		Data: map[string]any{
			"aluno_id":         st.ID,
			"aluno_nome":       st.Name,
			"responsavel_nome": res.Guardian.Name,
		},
	})
	slog.Info("release requested", "student_id", st.ID, "guardian_id", res.Guardian.ID, "room", room, "repeat", refreshed, "expires_at", entry.ExpiresAt)

	return ScanResult{
		Kind:         ScanAwaiting,
		StudentID:    st.ID,
		StudentName:  st.Name,
		GuardianName: res.Guardian.Name,
		ClassID:      st.ClassID,
	}, nil
}

// Decide applies a teacher decision. The front desk always receives an
// outcome once the decision names a student, including when it fails.
func (c *Coordinator) Decide(ctx context.Context, d Decision) (Outcome, error) {
	d.Status = strings.TrimSpace(d.Status)
	if d.StudentID <= 0 || d.Status == "" {
		metrics.ReleaseDecisions.WithLabelValues("invalido", "rejeitado").Inc()
		return Outcome{}, ErrInvalidDecision
	}

	if d.Status == StatusReleased {
		return c.release(ctx, d)
	}

	entry, ok, err := c.pending.Refresh(ctx, d.StudentID, c.now().Add(c.ttl))
	if err != nil {
		return c.reject(d, fmt.Errorf("refresh release for student %d: %w", d.StudentID, err))
	}
	if !ok {
		return c.reject(d, ErrNoPendingRelease)
	}
	out := Outcome{Decision: fill(d, entry)}
	c.pub.Publish(realtime.FrontDeskRoom, realtime.Event{Name: realtime.EventReleaseOutcome, Data: out})
	metrics.ReleaseDecisions.WithLabelValues(d.Status, "mantido").Inc()
	slog.Info("release held by teacher", "student_id", d.StudentID, "status", d.Status)
	return out, nil
}

func (c *Coordinator) release(ctx context.Context, d Decision) (Outcome, error) {
	entry, ok, err := c.pending.Take(ctx, d.StudentID)
	if err != nil {
		return c.reject(d, fmt.Errorf("claim release for student %d: %w", d.StudentID, err))
	}
	if !ok {
		return c.reject(d, ErrNoPendingRelease)
	}
	d = fill(d, entry)

	classID := entry.ClassID
	_, err = c.recorder.Record(ctx, attendance.Student{ID: entry.StudentID, Name: entry.StudentName, ClassID: &classID}, attendance.MovementExit)
	if err != nil {
		if rerr := c.pending.Restore(ctx, entry); rerr != nil {
			slog.Error("pending release lost after failed exit", "student_id", d.StudentID, "error", rerr)
		}
		perr := &PersistenceError{StudentID: d.StudentID, Err: err}
		slog.Error("approved exit not recorded", "student_id", d.StudentID, "error", err)
		out, _ := c.reject(d, perr)
		return out, perr
	}
	c.gauge(ctx)

	out := Outcome{Decision: d, Registered: true}
	c.pub.Publish(realtime.FrontDeskRoom, realtime.Event{Name: realtime.EventReleaseOutcome, Data: out})
	metrics.ReleaseDecisions.WithLabelValues(StatusReleased, "registrado").Inc()
	slog.Info("student released", "student_id", d.StudentID, "guardian", d.GuardianName)
	return out, nil
}

// reject publishes a failed outcome to the front desk and returns err.
func (c *Coordinator) reject(d Decision, err error) (Outcome, error) {
	out := Outcome{Decision: d, Error: publicText(err)}
	c.pub.Publish(realtime.FrontDeskRoom, realtime.Event{Name: realtime.EventReleaseOutcome, Data: out})
	metrics.ReleaseDecisions.WithLabelValues(d.Status, "rejeitado").Inc()
	slog.Warn("release decision rejected", "student_id", d.StudentID, "status", d.Status, "error", err)
	return out, err
}

// HandleDecision adapts Decide to inbound realtime events.
func (c *Coordinator) HandleDecision(ctx context.Context, _ *realtime.Client, data json.RawMessage) error {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return ErrInvalidDecision
	}
	_, err := c.Decide(ctx, d)
	return err
}

// Pending lists outstanding releases, oldest first.
func (c *Coordinator) Pending(ctx context.Context) ([]PendingRelease, error) {
	return c.pending.List(ctx)
}

// Cancel drops the outstanding release for studentID.
func (c *Coordinator) Cancel(ctx context.Context, studentID int64) (PendingRelease, error) {
	entry, ok, err := c.pending.Take(ctx, studentID)
	if err != nil {
		return PendingRelease{}, fmt.Errorf("cancel release for student %d: %w", studentID, err)
	}
	if !ok {
		return PendingRelease{}, ErrNoPendingRelease
	}
	c.gauge(ctx)
	c.withdraw(entry, StatusCancelled)
	slog.Info("release cancelled", "student_id", studentID)
	return entry, nil
}

// Run expires stale releases until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.expire(ctx, c.now()); n > 0 {
				slog.Info("expired pending releases", "count", n)
			}
		}
	}
}

func (c *Coordinator) expire(ctx context.Context, now time.Time) int {
	stale, err := c.pending.Expire(ctx, now)
	if err != nil {
		slog.Warn("sweep pending releases", "error", err)
	}
	for _, entry := range stale {
		c.withdraw(entry, StatusExpired)
		metrics.ReleasesExpired.Inc()
	}
	if len(stale) > 0 {
		c.gauge(ctx)
	}
	return len(stale)
}

func (c *Coordinator) gauge(ctx context.Context) {
	if n, err := c.pending.Size(ctx); err == nil {
		metrics.PendingReleases.Set(float64(n))
	}
}

// withdraw tells the class room to clear the request and the front desk why.
func (c *Coordinator) withdraw(entry PendingRelease, status string) {
	c.pub.Publish(entry.Room, realtime.Event{
		Name: realtime.EventReleaseCancelled,
		Data: map[string]any{
			"aluno_id":   entry.StudentID,
			"aluno_nome": entry.StudentName,
			"motivo":     status,
		},
	})
	c.pub.Publish(realtime.FrontDeskRoom, realtime.Event{
		Name: realtime.EventReleaseOutcome,
		Data: Outcome{Decision: Decision{
			StudentID:    entry.StudentID,
			StudentName:  entry.StudentName,
			GuardianName: entry.GuardianName,
			Status:       status,
		}},
	})
}

func fill(d Decision, entry PendingRelease) Decision {
	if d.StudentName == "" {
		d.StudentName = entry.StudentName
	}
	if d.GuardianName == "" {
		d.GuardianName = entry.GuardianName
	}
	return d
}

func publicText(err error) string {
	var pe interface{ Public() string }
	if errors.As(err, &pe) {
		return pe.Public()
	}
	return "Erro interno no servidor."
}

func scanFailure(err error) string {
	switch {
	case errors.Is(err, badge.ErrNotFound):
		return "nao_encontrado"
	case errors.Is(err, badge.ErrEmptyCode):
		return "invalido"
	case errors.Is(err, ErrUnassignedClass):
		return "sem_turma"
	default:
		return "erro"
	}
}
