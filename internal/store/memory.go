package store

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/hostelpay/internal/clock"
	"github.com/punchamoorthee/hostelpay/internal/domain"
)

// MemoryStore mirrors LedgerStore semantics behind a single mutex.
type MemoryStore struct {
	clock clock.Clock

	mu        sync.Mutex
	recharges map[string]*domain.Recharge
	order     []string
	credits   map[string]struct{}
	students  map[string]*domain.Student
	admins    map[string]*domain.AdminUser
	calls     []domain.CallRecord
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{
		clock:     clk,
		recharges: make(map[string]*domain.Recharge),
		credits:   make(map[string]struct{}),
		students:  make(map[string]*domain.Student),
		admins:    make(map[string]*domain.AdminUser),
	}
}

func (s *MemoryStore) CreateRecharge(_ context.Context, r *domain.Recharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recharges[r.ID]; ok {
		return ErrConflict
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}
	r.UpdatedAt = r.CreatedAt
	r.ProviderPayload = nonNilPayload(r.ProviderPayload)
	s.recharges[r.ID] = copyRecharge(r)
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryStore) FindRecharge(_ context.Context, keys ...domain.MatchKey) (*domain.Recharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		for _, id := range s.order {
			r := s.recharges[id]
			if r.Field(k.Field) == k.Value {
				return copyRecharge(r), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ApplyObservation(_ context.Context, id string, obs domain.Observation) (*domain.Recharge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recharges[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	now := s.clock.Now()
	r.Status = obs.Status
	r.ProviderPayload = nonNilPayload(obs.Payload)
	r.UpdatedAt = now

	credited := false
	if domain.IsSuccessStatus(obs.Status) {
		if _, done := s.credits[id]; !done {
			s.credits[id] = struct{}{}
			s.incrementLocked(r.StudentID, r.AmountCents)
			r.CreditedAt = &now
			credited = true
		}
	}
	return copyRecharge(r), credited, nil
}

func (s *MemoryStore) IncrementBalance(_ context.Context, studentID string, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(studentID, delta), nil
}

func (s *MemoryStore) incrementLocked(studentID string, delta int64) bool {
	st, ok := s.students[studentID]
	if !ok {
		return false
	}
	st.BalanceCents += delta
	return true
}

func (s *MemoryStore) ListRechargesByStudent(_ context.Context, studentID string, limit int) ([]*domain.Recharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Recharge, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.recharges[s.order[i]]
		if r.StudentID != studentID {
			continue
		}
		out = append(out, copyRecharge(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateStudent(_ context.Context, st *domain.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.StudentID]; ok {
		return ErrConflict
	}
	st.BalanceCents = 0
	st.Parents = nonNilParents(st.Parents)
	st.CreatedAt = s.clock.Now()
	cp := *st
	s.students[st.StudentID] = &cp
	return nil
}

func (s *MemoryStore) GetStudent(_ context.Context, studentID string) (*domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListStudents(_ context.Context) ([]*domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Student, 0, len(s.students))
	for _, st := range s.students {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// AddCall records a call; in production the telephony side owns this table.
func (s *MemoryStore) AddCall(c domain.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *MemoryStore) ListCallsByStudent(_ context.Context, studentID string, limit int) ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CallRecord, 0)
	for _, c := range s.calls {
		if c.StudentID == studentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAdmin(_ context.Context, username string) (*domain.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) EnsureAdmin(_ context.Context, username, passwordHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[username]; ok {
		return false, nil
	}
	s.admins[username] = &domain.AdminUser{Username: username, PasswordHash: passwordHash}
	return true, nil
}

func copyRecharge(r *domain.Recharge) *domain.Recharge {
	cp := *r
	return &cp
}
