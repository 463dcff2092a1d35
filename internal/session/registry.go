package session

import (
	"github.com/google/uuid"

	"github.com/questforge/trade-engine/internal/model"
)

// Registry maps actors to their single active session.
//
// Start claims both actor keys via LoadOrStore (per-key compare-and-set),
// so two concurrent starts sharing an actor can never both succeed, and
// unrelated negotiations never contend on a shared lock.
type Registry struct {
	sessions syncMap[model.SessionID, *Session]
	byActor  syncMap[model.ActorID, model.SessionID]
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Start creates a session for the two actors. Fails with
// model.ErrAlreadyInSession if either is already mapped.
func (r *Registry) Start(partyA, partyB model.ActorID) (*Session, error) {
	if partyA == partyB {
		return nil, model.ErrSelfTrade
	}

	id := model.SessionID(uuid.New().String())
	sess := newSession(id, partyA, partyB)

	// Publish the session before claiming keys so SessionOf → Get never
	// races a half-registered session.
	r.sessions.Store(id, sess)

	if _, loaded := r.byActor.LoadOrStore(partyA, id); loaded {
		r.sessions.Delete(id)
		return nil, model.ErrAlreadyInSession
	}
	if _, loaded := r.byActor.LoadOrStore(partyB, id); loaded {
		r.byActor.CompareAndDelete(partyA, id)
		r.sessions.Delete(id)
		return nil, model.ErrAlreadyInSession
	}
	return sess, nil
}

// IsActive reports whether the actor is in a session.
func (r *Registry) IsActive(actor model.ActorID) bool {
	_, ok := r.byActor.Load(actor)
	return ok
}

// SessionOf resolves an actor to their active session id.
func (r *Registry) SessionOf(actor model.ActorID) (model.SessionID, bool) {
	return r.byActor.Load(actor)
}

// Get returns the session for the given id.
func (r *Registry) Get(id model.SessionID) (*Session, bool) {
	return r.sessions.Load(id)
}

// End removes the session and both actor mappings. Idempotent, and only
// unmaps an actor if they still point at this session.
func (r *Registry) End(id model.SessionID) {
	sess, ok := r.sessions.Load(id)
	if !ok {
		return
	}
	r.byActor.CompareAndDelete(sess.PartyA, id)
	r.byActor.CompareAndDelete(sess.PartyB, id)
	r.sessions.Delete(id)
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	n := 0
	r.sessions.Range(func(model.SessionID, *Session) bool { n++; return true })
	return n
}
