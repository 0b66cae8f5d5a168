package api

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/ethereum/go-ethereum/common"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

// DefaultAuditCapacity bounds the in-memory audit trail.
const DefaultAuditCapacity = 1000

// MemoryStore keeps all state in process. Records are copied on the way in
// and out so callers never share memory with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[common.Address]*services.Participant
	sessions     map[common.Address]*services.Session
	challenges   map[common.Address]*services.Challenge

	auditMu  sync.Mutex
	audit    *queue.Queue
	auditCap int
}

func NewMemoryStore(auditCapacity int) *MemoryStore {
	if auditCapacity <= 0 {
		auditCapacity = DefaultAuditCapacity
	}
	return &MemoryStore{
		participants: map[common.Address]*services.Participant{},
		sessions:     map[common.Address]*services.Session{},
		challenges:   map[common.Address]*services.Challenge{},
		audit:        queue.New(),
		auditCap:     auditCapacity,
	}
}

func (s *MemoryStore) GetParticipant(_ context.Context, addr common.Address) (*services.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[addr]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context) ([]*services.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) CountParticipants(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants), nil
}

func (s *MemoryStore) InsertParticipant(_ context.Context, p *services.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Address]; ok {
		return services.ErrAlreadyRegistered
	}
	cp := *p
	s.participants[p.Address] = &cp
	return nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p *services.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Address]; !ok {
		return services.ErrNotRegistered
	}
	cp := *p
	s.participants[p.Address] = &cp
	return nil
}

func (s *MemoryStore) InsertSession(_ context.Context, sess *services.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Address]; ok {
		return services.NewInvalidError("session already exists")
	}
	s.sessions[sess.Address] = sess.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, addr common.Address) (*services.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[addr].Clone(), nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*services.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

func (s *MemoryStore) CountSessions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions)), nil
}

func (s *MemoryStore) PutProposal(_ context.Context, session, participant common.Address, p services.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[session]
	if !ok {
		return services.NewNotFoundError("session not found")
	}
	if sess.State != services.SessionOpen {
		return services.ErrSessionClosed
	}
	sess.Proposals[participant] = p
	return nil
}

// SettleSession swaps in the ended session and the updated participants under
// one lock, after checking the stored session is still open.
func (s *MemoryStore) SettleSession(_ context.Context, sess *services.Session, participants []*services.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.Address]
	if !ok {
		return services.NewNotFoundError("session not found")
	}
	if cur.State != services.SessionOpen {
		return services.ErrAlreadyEnded
	}
	for _, p := range participants {
		if _, ok := s.participants[p.Address]; !ok {
			return services.ErrNotRegistered
		}
	}
	s.sessions[sess.Address] = sess.Clone()
	for _, p := range participants {
		cp := *p
		s.participants[p.Address] = &cp
	}
	return nil
}

// AddAudit appends to a ring; the oldest entry is dropped once full.
func (s *MemoryStore) AddAudit(e services.AuditEntry) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.audit.Add(e)
	for s.audit.Length() > s.auditCap {
		s.audit.Remove()
	}
}

func (s *MemoryStore) ListAudit(_ context.Context) ([]services.AuditEntry, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]services.AuditEntry, 0, s.audit.Length())
	for i := 0; i < s.audit.Length(); i++ {
		out = append(out, s.audit.Get(i).(services.AuditEntry))
	}
	return out, nil
}

func (s *MemoryStore) PutChallenge(_ context.Context, c *services.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.Address] = &cp
	return nil
}

func (s *MemoryStore) TakeChallenge(_ context.Context, addr common.Address) (*services.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[addr]
	if !ok {
		return nil, nil
	}
	delete(s.challenges, addr)
	return c, nil
}
