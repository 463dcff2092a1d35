package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/questforge/trade-engine/internal/model"
)

// Session is one live negotiation between two actors.
//
// Reads go through Snapshot and never block. Compound read-modify-write
// goes through Transition, which serializes against other transitions on
// the same session: the confirm check and the settlement it triggers run
// as one critical section, so a concurrent edit lands strictly before or
// strictly after, never mid-check.
type Session struct {
	ID        model.SessionID
	PartyA    model.ActorID
	PartyB    model.ActorID
	CreatedAt time.Time

	mu       sync.Mutex
	state    atomic.Pointer[State]
	finished atomic.Bool
}

// Finish flips the session's one-shot teardown latch. Returns true for
// exactly one caller; later callers get false.
func (s *Session) Finish() bool {
	return s.finished.CompareAndSwap(false, true)
}

func newSession(id model.SessionID, partyA, partyB model.ActorID) *Session {
	s := &Session{
		ID:        id,
		PartyA:    partyA,
		PartyB:    partyB,
		CreatedAt: time.Now().UTC(),
	}
	s.state.Store(NewState())
	return s
}

// SideOf resolves which side of the state the actor occupies.
func (s *Session) SideOf(actor model.ActorID) (Side, bool) {
	switch actor {
	case s.PartyA:
		return SideA, true
	case s.PartyB:
		return SideB, true
	default:
		return SideA, false
	}
}

// Party returns the actor occupying the given side.
func (s *Session) Party(side Side) model.ActorID {
	if side == SideA {
		return s.PartyA
	}
	return s.PartyB
}

// Snapshot returns the current state. Lock-free; the returned value is
// immutable and safe to read concurrently with transitions.
func (s *Session) Snapshot() *State {
	return s.state.Load()
}

// Transition runs f under the session's transition lock and, when f
// returns a non-nil state, installs it as the new snapshot. f may perform
// side effects (inventory moves) inside the critical section; it receives
// the current state and must not mutate it. On error the state f returned
// (if any) is still installed — settlement uses this to persist a
// ROLLED_BACK state together with the failure it reports.
func (s *Session) Transition(f func(cur *State) (*State, error)) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	next, err := f(cur)
	if next == nil {
		return cur, err
	}
	s.state.Store(next)
	return next, err
}
