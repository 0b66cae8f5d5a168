package services

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Authority answers the role questions a session cannot answer on its own.
// The registry supplies it per call; sessions keep no reference to it.
type Authority interface {
	IsAdministrator(addr common.Address) bool
	IsApprovedParticipant(addr common.Address) bool
}

// NewSession builds an open session. Deadline is fixed at creation.
func NewSession(addr common.Address, seq int64, name, description string, images []string, duration time.Duration, now time.Time) *Session {
	return &Session{
		Address:            addr,
		Seq:                seq,
		ProductName:        name,
		ProductDescription: description,
		ProductImages:      append([]string{}, images...),
		CreatedAt:          now,
		Duration:           duration,
		Deadline:           now.Add(duration),
		State:              SessionOpen,
		Proposals:          map[common.Address]Proposal{},
	}
}

// Propose admits or overwrites the caller's price. The deadline is enforced
// here even when the session has not been closed yet.
func (s *Session) Propose(auth Authority, caller common.Address, price uint64, now time.Time) error {
	if !auth.IsApprovedParticipant(caller) {
		return NewNotAuthorizedError("only approved participants can propose")
	}
	if s.State != SessionOpen {
		return &ServiceError{Code: ErrorSessionClosed, Message: "session is ended"}
	}
	if !now.Before(s.Deadline) {
		return &ServiceError{Code: ErrorSessionExpired, Message: fmt.Sprintf("session deadline %s has passed", s.Deadline.UTC().Format(time.RFC3339))}
	}
	if s.Proposals == nil {
		s.Proposals = map[common.Address]Proposal{}
	}
	s.Proposals[caller] = Proposal{Price: price, SubmittedAt: now}
	return nil
}

// Close ends the session and reports every participant's deviation from
// realPrice. Nothing on s changes unless the whole computation succeeds.
func (s *Session) Close(auth Authority, caller common.Address, realPrice uint64, now time.Time) (*CloseReport, error) {
	if !auth.IsAdministrator(caller) {
		return nil, NewNotAuthorizedError("only admin can do this")
	}
	if s.State != SessionOpen {
		return nil, &ServiceError{Code: ErrorAlreadyEnded, Message: "session already ended"}
	}

	participants := s.sortedProposers()
	prices := make([]uint64, 0, len(participants))
	deviations := make([]ParticipantDeviation, 0, len(participants))
	for _, addr := range participants {
		p := s.Proposals[addr]
		prices = append(prices, p.Price)
		deviations = append(deviations, ParticipantDeviation{
			Participant: addr,
			Proposed:    p.Price,
			Deviation:   Deviation(p.Price, realPrice),
		})
	}
	suggested, err := SuggestedPrice(prices)
	if err != nil {
		return nil, err
	}

	s.SuggestedPrice = suggested
	s.RealPrice = realPrice
	s.EndedAt = now
	s.State = SessionEnded

	return &CloseReport{
		Session:        s.Address,
		SuggestedPrice: suggested,
		RealPrice:      realPrice,
		Deviations:     deviations,
		EndedAt:        now,
	}, nil
}

// Proposal returns the caller's latest price, if any.
func (s *Session) Proposal(addr common.Address) ProposalView {
	p, ok := s.Proposals[addr]
	if !ok {
		return ProposalView{Participant: addr}
	}
	at := p.SubmittedAt
	return ProposalView{Participant: addr, Price: p.Price, Proposed: true, SubmittedAt: &at}
}

// ProposalList returns every proposal ordered by participant address.
func (s *Session) ProposalList() []ProposalView {
	out := make([]ProposalView, 0, len(s.Proposals))
	for _, addr := range s.sortedProposers() {
		out = append(out, s.Proposal(addr))
	}
	return out
}

func (s *Session) sortedProposers() []common.Address {
	addrs := make([]common.Address, 0, len(s.Proposals))
	for addr := range s.Proposals {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	return addrs
}
