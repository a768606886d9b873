package pickup

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PendingRelease is a guardian pickup waiting for the class teacher.
type PendingRelease struct {
	StudentID    int64     `json:"aluno_id"`
	StudentName  string    `json:"aluno_nome"`
	GuardianName string    `json:"responsavel_nome"`
	ClassID      int64     `json:"turma_id"`
	Room         string    `json:"sala"`
	RequestedAt  time.Time `json:"solicitado_em"`
	ExpiresAt    time.Time `json:"expira_em"`
}

// Store holds at most one pending release per student. Every instance that
// may receive a scan or a decision for the same school must share one Store.
type Store interface {
	// Put stores p and reports whether it replaced an outstanding request.
	// A replaced request keeps its first RequestedAt.
	Put(ctx context.Context, p PendingRelease) (PendingRelease, bool, error)
	// Take removes the entry for studentID. Concurrent callers never both win.
	Take(ctx context.Context, studentID int64) (PendingRelease, bool, error)
	// Restore puts back an entry removed by Take unless a newer scan replaced it.
	Restore(ctx context.Context, p PendingRelease) error
	Refresh(ctx context.Context, studentID int64, expiresAt time.Time) (PendingRelease, bool, error)
	// Expire removes and returns every entry whose deadline is not after now.
	Expire(ctx context.Context, now time.Time) ([]PendingRelease, error)
	List(ctx context.Context) ([]PendingRelease, error)
	Size(ctx context.Context) (int, error)
}

// MemoryStore keeps pending releases in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64]PendingRelease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]PendingRelease)}
}

func (s *MemoryStore) Put(_ context.Context, p PendingRelease) (PendingRelease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[p.StudentID]
	if ok {
		p.RequestedAt = prev.RequestedAt
	}
	s.entries[p.StudentID] = p
	return p, ok, nil
}

func (s *MemoryStore) Take(_ context.Context, studentID int64) (PendingRelease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[studentID]
	if ok {
		delete(s.entries, studentID)
	}
	return p, ok, nil
}

func (s *MemoryStore) Restore(_ context.Context, p PendingRelease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.StudentID]; !ok {
		s.entries[p.StudentID] = p
	}
	return nil
}

func (s *MemoryStore) Refresh(_ context.Context, studentID int64, expiresAt time.Time) (PendingRelease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[studentID]
	if !ok {
		return PendingRelease{}, false, nil
	}
	p.ExpiresAt = expiresAt
	s.entries[studentID] = p
	return p, true, nil
}

func (s *MemoryStore) Expire(_ context.Context, now time.Time) ([]PendingRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingRelease
	for id, p := range s.entries {
		if !p.ExpiresAt.After(now) {
			out = append(out, p)
			delete(s.entries, id)
		}
	}
	sortByRequest(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context) ([]PendingRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingRelease, 0, len(s.entries))
	for _, p := range s.entries {
		out = append(out, p)
	}
	sortByRequest(out)
	return out, nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func sortByRequest(ps []PendingRelease) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].RequestedAt.Equal(ps[j].RequestedAt) {
			return ps[i].StudentID < ps[j].StudentID
		}
		return ps[i].RequestedAt.Before(ps[j].RequestedAt)
	})
}
