package services

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type SessionState string

const (
	SessionOpen  SessionState = "open"
	SessionEnded SessionState = "ended"
)

// Participant is a registry entry keyed by address. ProposalCount and
// AverageDeviation only change when a session the participant proposed in is
// settled.
type Participant struct {
	Address          common.Address `json:"address"`
	Name             string         `json:"name"`
	Email            string         `json:"email,omitempty"`
	Registered       bool           `json:"registered"`
	Approved         bool           `json:"approved"`
	ProposalCount    uint64         `json:"proposal_count"`
	AverageDeviation uint64         `json:"average_deviation"`
	RegisteredAt     time.Time      `json:"registered_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// FoldDeviation records one more settled session for the participant.
func (p *Participant) FoldDeviation(d uint64) error {
	avg, count, err := FoldDeviation(p.AverageDeviation, p.ProposalCount, d)
	if err != nil {
		return err
	}
	p.AverageDeviation = avg
	p.ProposalCount = count
	return nil
}

type Proposal struct {
	Price       uint64    `json:"price"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Session is one product round. Address is the stable handle; Seq orders
// sessions by creation.
type Session struct {
	Address            common.Address
	Seq                int64
	ProductName        string
	ProductDescription string
	ProductImages      []string
	CreatedAt          time.Time
	Duration           time.Duration
	Deadline           time.Time
	State              SessionState
	Proposals          map[common.Address]Proposal
	SuggestedPrice     uint64
	RealPrice          uint64
	EndedAt            time.Time
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ProductImages = append([]string(nil), s.ProductImages...)
	cp.Proposals = make(map[common.Address]Proposal, len(s.Proposals))
	for addr, p := range s.Proposals {
		cp.Proposals[addr] = p
	}
	return &cp
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	SessionAddress     common.Address `json:"session_address"`
	ProductName        string         `json:"product_name"`
	ProductDescription string         `json:"product_description"`
	ProductImages      []string       `json:"product_images"`
	State              SessionState   `json:"state"`
	CreatedAt          time.Time      `json:"created_at"`
	Deadline           time.Time      `json:"deadline"`
}

// SessionView exposes the read accessors of a session. Prices are nil while
// the session is open.
type SessionView struct {
	SessionInfo
	DurationSeconds int64      `json:"duration_seconds"`
	ProposalCount   int        `json:"proposal_count"`
	SuggestedPrice  *uint64    `json:"suggested_price,omitempty"`
	RealPrice       *uint64    `json:"real_price,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		SessionAddress:     s.Address,
		ProductName:        s.ProductName,
		ProductDescription: s.ProductDescription,
		ProductImages:      append([]string{}, s.ProductImages...),
		State:              s.State,
		CreatedAt:          s.CreatedAt,
		Deadline:           s.Deadline,
	}
}

func (s *Session) View() SessionView {
	v := SessionView{
		SessionInfo:     s.Info(),
		DurationSeconds: int64(s.Duration / time.Second),
		ProposalCount:   len(s.Proposals),
	}
	if s.State == SessionEnded {
		suggested, realPrice, ended := s.SuggestedPrice, s.RealPrice, s.EndedAt
		v.SuggestedPrice = &suggested
		v.RealPrice = &realPrice
		v.EndedAt = &ended
	}
	return v
}

// ProposalView answers getParticipantProposePrice. Proposed is false and
// Price zero when the participant never proposed.
type ProposalView struct {
	Participant common.Address `json:"participant"`
	Price       uint64         `json:"price"`
	Proposed    bool           `json:"proposed"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
}

type ParticipantDeviation struct {
	Participant common.Address `json:"participant"`
	Proposed    uint64         `json:"proposed"`
	Deviation   uint64         `json:"deviation"`
}

// CloseReport is produced exactly once per session, when it ends.
type CloseReport struct {
	Session        common.Address         `json:"session"`
	SuggestedPrice uint64                 `json:"suggested_price"`
	RealPrice      uint64                 `json:"real_price"`
	Deviations     []ParticipantDeviation `json:"deviations"`
	EndedAt        time.Time              `json:"ended_at"`
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}
