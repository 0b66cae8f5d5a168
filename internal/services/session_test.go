package services

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testAdmin = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	mallory   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type fakeAuthority struct {
	admin    common.Address
	approved map[common.Address]bool
}

func (f fakeAuthority) IsAdministrator(addr common.Address) bool { return addr == f.admin }
func (f fakeAuthority) IsApprovedParticipant(addr common.Address) bool {
	return f.approved[addr]
}

func newFakeAuthority(approved ...common.Address) fakeAuthority {
	f := fakeAuthority{admin: testAdmin, approved: map[common.Address]bool{}}
	for _, a := range approved {
		f.approved[a] = true
	}
	return f
}

func newTestSession(now time.Time) *Session {
	return NewSession(common.HexToAddress("0x5e55"), 0, "Product 1", "Description 1", []string{"image hash"}, 1000*time.Second, now)
}

func TestSessionProposeAndOverwrite(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSession(now)
	auth := newFakeAuthority(alice)

	if err := s.Propose(auth, alice, 1000, now); err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	if got := s.Proposal(alice); !got.Proposed || got.Price != 1000 {
		t.Fatalf("unexpected proposal: %+v", got)
	}
	if err := s.Propose(auth, alice, 900, now.Add(10*time.Second)); err != nil {
		t.Fatalf("second Propose error: %v", err)
	}
	if got := s.Proposal(alice); got.Price != 900 {
		t.Fatalf("expected last proposal to win, got %d", got.Price)
	}
	if len(s.Proposals) != 1 {
		t.Fatalf("expected one proposal per participant, got %d", len(s.Proposals))
	}
	if got := s.Proposal(bob); got.Proposed || got.Price != 0 || got.SubmittedAt != nil {
		t.Fatalf("expected zero proposal for bob, got %+v", got)
	}
}

func TestSessionProposeRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newFakeAuthority(alice)

	s := newTestSession(now)
	if err := s.Propose(auth, mallory, 10, now); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	if err := s.Propose(auth, alice, 10, s.Deadline); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired at deadline, got %v", err)
	}
	if err := s.Propose(auth, alice, 10, now.Add(2000*time.Second)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired after deadline, got %v", err)
	}
	if len(s.Proposals) != 0 {
		t.Fatalf("rejected proposals must not be stored")
	}

	if err := s.Propose(auth, alice, 10, now); err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	if _, err := s.Close(auth, testAdmin, 10, now); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Propose(auth, alice, 20, now); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
	if err := s.Propose(auth, mallory, 20, now); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized on ended session, got %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newFakeAuthority(alice, bob, carol)
	s := newTestSession(now)
	for addr, price := range map[common.Address]uint64{alice: 50, bob: 40, carol: 70} {
		if err := s.Propose(auth, addr, price, now); err != nil {
			t.Fatalf("Propose error: %v", err)
		}
	}

	if _, err := s.Close(auth, alice, 100, now); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if s.State != SessionOpen {
		t.Fatalf("failed close must not change state")
	}

	end := now.Add(time.Hour)
	report, err := s.Close(auth, testAdmin, 100, end)
	if err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if report.SuggestedPrice != 54 || s.SuggestedPrice != 54 {
		t.Fatalf("expected suggested price 54, got %d/%d", report.SuggestedPrice, s.SuggestedPrice)
	}
	if s.RealPrice != 100 || s.State != SessionEnded || !s.EndedAt.Equal(end) {
		t.Fatalf("unexpected session after close: %+v", s)
	}
	want := []ParticipantDeviation{
		{Participant: alice, Proposed: 50, Deviation: 50},
		{Participant: bob, Proposed: 40, Deviation: 60},
		{Participant: carol, Proposed: 70, Deviation: 30},
	}
	if len(report.Deviations) != len(want) {
		t.Fatalf("expected %d deviations, got %d", len(want), len(report.Deviations))
	}
	for i := range want {
		if report.Deviations[i] != want[i] {
			t.Fatalf("deviation %d = %+v, want %+v", i, report.Deviations[i], want[i])
		}
	}

	if _, err := s.Close(auth, testAdmin, 1, end); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected already ended, got %v", err)
	}
	if s.SuggestedPrice != 54 || s.RealPrice != 100 {
		t.Fatalf("second close changed results: %d/%d", s.SuggestedPrice, s.RealPrice)
	}
}

func TestSessionCloseWithoutProposals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSession(now)
	if _, err := s.Close(newFakeAuthority(), testAdmin, 100, now); !errors.Is(err, ErrNoProposals) {
		t.Fatalf("expected no proposals, got %v", err)
	}
	if s.State != SessionOpen {
		t.Fatalf("session must stay open after failed close")
	}
}

func TestSessionViewHidesPricesWhileOpen(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSession(now)
	v := s.View()
	if v.SuggestedPrice != nil || v.RealPrice != nil || v.EndedAt != nil {
		t.Fatalf("open session exposed results: %+v", v)
	}
	if v.DurationSeconds != 1000 || !v.Deadline.Equal(now.Add(1000*time.Second)) {
		t.Fatalf("unexpected window: %+v", v)
	}
}
