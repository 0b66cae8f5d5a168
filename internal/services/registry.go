package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// DefaultCapacity is the maximum number of registered participants.
const DefaultCapacity = 10

// RegistryStore is the transactional key-value layer under the registry.
// Getters return nil, nil for missing records. SettleSession must write the
// ended session and all participants atomically and fail with ErrAlreadyEnded
// when the stored session is no longer open.
type RegistryStore interface {
	GetParticipant(ctx context.Context, addr common.Address) (*Participant, error)
	ListParticipants(ctx context.Context) ([]*Participant, error)
	CountParticipants(ctx context.Context) (int, error)
	InsertParticipant(ctx context.Context, p *Participant) error
	UpdateParticipant(ctx context.Context, p *Participant) error

	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, addr common.Address) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	CountSessions(ctx context.Context) (int64, error)
	PutProposal(ctx context.Context, session, participant common.Address, p Proposal) error
	SettleSession(ctx context.Context, s *Session, participants []*Participant) error

	AddAudit(entry AuditEntry)
	ListAudit(ctx context.Context) ([]AuditEntry, error)
}

// Observer receives domain events, e.g. for metrics.
type Observer interface {
	SessionCreated(s *Session)
	ProposalAccepted(session common.Address)
	ProposalRejected(code ErrorCode)
	SessionSettled(report *CloseReport)
}

type nopObserver struct{}

func (nopObserver) SessionCreated(*Session)         {}
func (nopObserver) ProposalAccepted(common.Address) {}
func (nopObserver) ProposalRejected(ErrorCode)      {}
func (nopObserver) SessionSettled(*CloseReport)     {}

// maxDurationSeconds is the longest session a time.Duration can hold.
const maxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

type CreateSessionRequest struct {
	ProductName        string   `json:"product_name"`
	ProductDescription string   `json:"product_description"`
	ProductImages      []string `json:"product_images"`
	Duration           int64    `json:"duration"`
}

// Registry owns the administrator identity, the participant directory and
// the session arena. Operations on one session are serialised by a per-session
// lock; directory writes take mu exclusively.
type Registry struct {
	admin    common.Address
	store    RegistryStore
	capacity int
	log      *logan.Entry
	observer Observer
	now      func() time.Time

	mu sync.RWMutex

	locksMu      sync.Mutex
	sessionLocks map[common.Address]*sync.Mutex
}

type RegistryOption func(*Registry)

func WithCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func WithLogger(log *logan.Entry) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(admin common.Address, store RegistryStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		admin:        admin,
		store:        store,
		capacity:     DefaultCapacity,
		log:          logan.New(),
		observer:     nopObserver{},
		now:          func() time.Time { return time.Now().UTC() },
		sessionLocks: map[common.Address]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("component", "registry")
	return r
}

func (r *Registry) Administrator() common.Address { return r.admin }

func (r *Registry) IsAdministrator(addr common.Address) bool { return addr == r.admin }

// CreateSession opens a new session whose address is derived from the
// administrator address and the session sequence number.
func (r *Registry) CreateSession(ctx context.Context, caller common.Address, req CreateSessionRequest) (*SessionView, error) {
	if !r.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("only admin can do this")
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		return nil, NewInvalidError("product_name required")
	}
	if req.Duration <= 0 {
		return nil, NewInvalidError("duration must be positive")
	}
	if req.Duration > maxDurationSeconds {
		return nil, NewInvalidError("duration too large")
	}
	duration := time.Duration(req.Duration) * time.Second

	r.mu.Lock()
	defer r.mu.Unlock()

	seq, err := r.store.CountSessions(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to count sessions")
	}
	now := r.now()
	if !now.Add(duration).After(now) {
		return nil, NewInvalidError("duration too large")
	}
	addr := crypto.CreateAddress(r.admin, uint64(seq))
	s := NewSession(addr, seq, name, req.ProductDescription, req.ProductImages, duration, now)
	if err := r.store.InsertSession(ctx, s); err != nil {
		return nil, wrapStore(err, "failed to insert session")
	}

	r.store.AddAudit(AuditEntry{Time: s.CreatedAt, Actor: caller.Hex(), Action: "create_session", Target: addr.Hex(), Note: name})
	r.observer.SessionCreated(s)
	r.log.WithFields(logan.F{
		"session":  addr.Hex(),
		"product":  name,
		"deadline": s.Deadline.Format(time.RFC3339),
	}).Info("session created")

	v := s.View()
	return &v, nil
}

// Register adds the caller to the directory. Each address registers once and
// the directory holds at most capacity participants.
func (r *Registry) Register(ctx context.Context, caller common.Address, name, email string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.GetParticipant(ctx, caller)
	if err != nil {
		return nil, wrapStore(err, "failed to get participant")
	}
	if existing != nil && existing.Registered {
		return nil, &ServiceError{Code: ErrorAlreadyRegistered, Message: "already registered"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	count, err := r.store.CountParticipants(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to count participants")
	}
	if count >= r.capacity {
		return nil, &ServiceError{Code: ErrorCapacityExceeded, Message: fmt.Sprintf("maximum %d participants", r.capacity)}
	}

	now := r.now()
	p := &Participant{
		Address:      caller,
		Name:         name,
		Email:        strings.TrimSpace(email),
		Registered:   true,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := r.store.InsertParticipant(ctx, p); err != nil {
		return nil, wrapStore(err, "failed to insert participant")
	}
	r.store.AddAudit(AuditEntry{Time: now, Actor: caller.Hex(), Action: "register", Target: caller.Hex()})
	r.log.WithField("participant", caller.Hex()).Info("participant registered")
	return p, nil
}

func (r *Registry) ApproveParticipant(ctx context.Context, caller, target common.Address) (*Participant, error) {
	if !r.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("only admin can do this")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.GetParticipant(ctx, target)
	if err != nil {
		return nil, wrapStore(err, "failed to get participant")
	}
	if p == nil || !p.Registered {
		return nil, &ServiceError{Code: ErrorNotRegistered, Message: "participant is not registered"}
	}
	if p.Approved {
		return p, nil
	}
	p.Approved = true
	p.UpdatedAt = r.now()
	if err := r.store.UpdateParticipant(ctx, p); err != nil {
		return nil, wrapStore(err, "failed to update participant")
	}
	r.store.AddAudit(AuditEntry{Time: p.UpdatedAt, Actor: caller.Hex(), Action: "approve_participant", Target: target.Hex()})
	r.log.WithField("participant", target.Hex()).Info("participant approved")
	return p, nil
}

func (r *Registry) ChangeParticipantInfo(ctx context.Context, caller common.Address, name, email string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.GetParticipant(ctx, caller)
	if err != nil {
		return nil, wrapStore(err, "failed to get participant")
	}
	if p == nil || !p.Registered {
		return nil, &ServiceError{Code: ErrorNotRegistered, Message: "not a registered participant"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	p.Name = name
	p.Email = strings.TrimSpace(email)
	p.UpdatedAt = r.now()
	if err := r.store.UpdateParticipant(ctx, p); err != nil {
		return nil, wrapStore(err, "failed to update participant")
	}
	r.store.AddAudit(AuditEntry{Time: p.UpdatedAt, Actor: caller.Hex(), Action: "change_participant_info", Target: caller.Hex()})
	return p, nil
}

func (r *Registry) GetParticipant(ctx context.Context, addr common.Address) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, err := r.store.GetParticipant(ctx, addr)
	if err != nil {
		return nil, wrapStore(err, "failed to get participant")
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

func (r *Registry) ListParticipants(ctx context.Context, caller common.Address) ([]*Participant, error) {
	if !r.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("only admin can do this")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to list participants")
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].RegisteredAt.Before(ps[j].RegisteredAt) })
	return ps, nil
}

// ListSessions returns session info in creation order.
func (r *Registry) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to list sessions")
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].Seq < sessions[j].Seq })
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out, nil
}

func (r *Registry) GetSession(ctx context.Context, addr common.Address) (*SessionView, error) {
	s, err := r.loadSession(ctx, addr)
	if err != nil {
		return nil, err
	}
	v := s.View()
	return &v, nil
}

func (r *Registry) GetProposal(ctx context.Context, session, participant common.Address) (*ProposalView, error) {
	s, err := r.loadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	v := s.Proposal(participant)
	return &v, nil
}

// ListProposals is open to the administrator at any time and to everyone
// once the session has ended.
func (r *Registry) ListProposals(ctx context.Context, session, caller common.Address) ([]ProposalView, error) {
	s, err := r.loadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if s.State != SessionEnded && !r.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("proposals are visible after the session ends")
	}
	return s.ProposalList(), nil
}

// ProposePrice submits or replaces the caller's proposal for a session.
func (r *Registry) ProposePrice(ctx context.Context, session, caller common.Address, price uint64) (*ProposalView, error) {
	unlock := r.lockSession(session)
	defer unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.loadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	p, err := r.store.GetParticipant(ctx, caller)
	if err != nil {
		return nil, wrapStore(err, "failed to get participant")
	}

	now := r.now()
	if err := s.Propose(r.authority(p), caller, price, now); err != nil {
		if se, ok := AsServiceError(err); ok {
			r.observer.ProposalRejected(se.Code)
		}
		r.log.WithError(err).WithFields(logan.F{
			"session":     session.Hex(),
			"participant": caller.Hex(),
		}).Debug("proposal rejected")
		return nil, err
	}
	if err := r.store.PutProposal(ctx, session, caller, s.Proposals[caller]); err != nil {
		return nil, wrapStore(err, "failed to store proposal")
	}

	r.store.AddAudit(AuditEntry{Time: now, Actor: caller.Hex(), Action: "propose_price", Target: session.Hex()})
	r.observer.ProposalAccepted(session)
	r.log.WithFields(logan.F{
		"session":     session.Hex(),
		"participant": caller.Hex(),
	}).Debug("proposal accepted")

	v := s.Proposal(caller)
	return &v, nil
}

// EndSession closes the session and folds every reported deviation into the
// proposer's running average. The session and the participants are written
// in one store call, so a failure leaves both untouched.
func (r *Registry) EndSession(ctx context.Context, session, caller common.Address, realPrice uint64) (*CloseReport, error) {
	unlock := r.lockSession(session)
	defer unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	now := r.now()
	report, err := s.Close(r.authority(nil), caller, realPrice, now)
	if err != nil {
		return nil, err
	}

	participants := make([]*Participant, 0, len(report.Deviations))
	for _, d := range report.Deviations {
		p, err := r.store.GetParticipant(ctx, d.Participant)
		if err != nil {
			return nil, wrapStore(err, "failed to get participant")
		}
		if p == nil {
			return nil, &ServiceError{Code: ErrorNotRegistered, Message: fmt.Sprintf("proposer %s is not registered", d.Participant.Hex())}
		}
		if err := p.FoldDeviation(d.Deviation); err != nil {
			return nil, err
		}
		p.UpdatedAt = now
		participants = append(participants, p)
	}
	if err := r.store.SettleSession(ctx, s, participants); err != nil {
		return nil, wrapStore(err, "failed to settle session")
	}

	r.store.AddAudit(AuditEntry{
		Time:   now,
		Actor:  caller.Hex(),
		Action: "end_session",
		Target: session.Hex(),
		Note:   fmt.Sprintf("suggested=%d real=%d proposals=%d", report.SuggestedPrice, report.RealPrice, len(report.Deviations)),
	})
	r.observer.SessionSettled(report)
	r.log.WithFields(logan.F{
		"session":         session.Hex(),
		"suggested_price": report.SuggestedPrice,
		"real_price":      report.RealPrice,
		"proposals":       len(report.Deviations),
	}).Info("session ended")
	return report, nil
}

func (r *Registry) ListAudit(ctx context.Context, caller common.Address) ([]AuditEntry, error) {
	if !r.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("only admin can do this")
	}
	entries, err := r.store.ListAudit(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to list audit")
	}
	return entries, nil
}

func (r *Registry) loadSession(ctx context.Context, addr common.Address) (*Session, error) {
	s, err := r.store.GetSession(ctx, addr)
	if err != nil {
		return nil, wrapStore(err, "failed to get session")
	}
	if s == nil {
		return nil, NewNotFoundError("session not found")
	}
	return s, nil
}

func (r *Registry) lockSession(addr common.Address) func() {
	r.locksMu.Lock()
	l, ok := r.sessionLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		r.sessionLocks[addr] = l
	}
	r.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// authority snapshots the caller's directory entry for the session engine.
func (r *Registry) authority(p *Participant) Authority {
	return registryAuthority{admin: r.admin, participant: p}
}

type registryAuthority struct {
	admin       common.Address
	participant *Participant
}

func (a registryAuthority) IsAdministrator(addr common.Address) bool { return addr == a.admin }

func (a registryAuthority) IsApprovedParticipant(addr common.Address) bool {
	p := a.participant
	return p != nil && p.Address == addr && p.Registered && p.Approved
}

// wrapStore keeps service errors intact so callers can still match codes.
func wrapStore(err error, msg string) error {
	if _, ok := AsServiceError(err); ok {
		return err
	}
	return errors.Wrap(err, msg)
}
