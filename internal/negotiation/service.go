// Package negotiation exposes the trade engine's operations to the host:
// send/accept/deny invitations, edit the shared offer, confirm, cancel.
// It orchestrates the request and session registries and hands fully
// confirmed sessions to the settlement engine.
package negotiation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/inventory"
	"github.com/questforge/trade-engine/internal/metrics"
	"github.com/questforge/trade-engine/internal/model"
	"github.com/questforge/trade-engine/internal/request"
	"github.com/questforge/trade-engine/internal/session"
	"github.com/questforge/trade-engine/internal/settlement"
)

// Event is pushed to an actor's presentation layer on anything they need
// to redraw or react to.
type Event struct {
	Type    string          `json:"type"` // request, request_denied, session_opened, state, settled, rolled_back
	Session model.SessionID `json:"session_id,omitempty"`
	From    model.ActorID   `json:"from,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	State   *StateView      `json:"state,omitempty"`
}

// Notifier delivers events to a single actor. Backed by the websocket Hub
// in the server; a no-op or recording notifier in tests.
type Notifier interface {
	Publish(actor model.ActorID, ev Event)
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) Publish(model.ActorID, Event) {}

// StateView is the read model of a negotiation handed to callers and
// pushed over the event feed.
type StateView struct {
	SessionID  model.SessionID `json:"session_id"`
	PartyA     model.ActorID   `json:"party_a"`
	PartyB     model.ActorID   `json:"party_b"`
	OfferA     model.Offer     `json:"offer_a"`
	OfferB     model.Offer     `json:"offer_b"`
	CurrencyA  decimal.Decimal `json:"currency_a"`
	CurrencyB  decimal.Decimal `json:"currency_b"`
	ConfirmedA bool            `json:"confirmed_a"`
	ConfirmedB bool            `json:"confirmed_b"`
	Status     model.Status    `json:"status"`
	Reason     string          `json:"reason,omitempty"`
}

func viewOf(sess *session.Session, st *session.State) StateView {
	return StateView{
		SessionID:  sess.ID,
		PartyA:     sess.PartyA,
		PartyB:     sess.PartyB,
		OfferA:     st.OfferA.Clone(),
		OfferB:     st.OfferB.Clone(),
		CurrencyA:  st.CurrencyA,
		CurrencyB:  st.CurrencyB,
		ConfirmedA: st.ConfirmedA,
		ConfirmedB: st.ConfirmedB,
		Status:     st.Status,
		Reason:     st.Reason,
	}
}

// Service is the negotiation façade.
type Service struct {
	requests *request.Registry
	sessions *session.Registry
	engine   *settlement.Engine
	inv      inventory.Inventory
	presence settlement.Presence
	notifier Notifier
}

// NewService wires the façade. notifier may be nil (events dropped).
func NewService(
	requests *request.Registry,
	sessions *session.Registry,
	engine *settlement.Engine,
	inv inventory.Inventory,
	presence settlement.Presence,
	notifier Notifier,
) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		requests: requests,
		sessions: sessions,
		engine:   engine,
		inv:      inv,
		presence: presence,
		notifier: notifier,
	}
}

// SendRequest installs a trade invitation from sender to target.
func (s *Service) SendRequest(ctx context.Context, sender, target model.ActorID) error {
	if sender == target {
		return model.ErrSelfTrade
	}
	if s.sessions.IsActive(sender) || s.sessions.IsActive(target) {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		return model.ErrAlreadyInSession
	}
	if !s.presence.Reachable(target) {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		return model.ErrUnreachableActor
	}

	if _, err := s.requests.Send(sender, target); err != nil {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.RequestsTotal.WithLabelValues("sent").Inc()
	metrics.PendingRequests.Set(float64(s.requests.Len()))

	slog.Info("trade request sent", "sender", sender, "target", target)
	s.notifier.Publish(target, Event{Type: "request", From: sender})
	return nil
}

// AcceptRequest consumes the pending request from expectedSender and opens
// a session for both parties.
func (s *Service) AcceptRequest(ctx context.Context, target, expectedSender model.ActorID) (StateView, error) {
	if s.sessions.IsActive(target) || s.sessions.IsActive(expectedSender) {
		return StateView{}, model.ErrAlreadyInSession
	}

	req, err := s.requests.Take(expectedSender, target)
	if err != nil {
		return StateView{}, err
	}
	metrics.PendingRequests.Set(float64(s.requests.Len()))

	sess, err := s.sessions.Start(req.Sender, req.Target)
	if err != nil {
		return StateView{}, err
	}
	metrics.ActiveSessions.Set(float64(s.sessions.Active()))

	slog.Info("trade session opened", "session", sess.ID, "party_a", sess.PartyA, "party_b", sess.PartyB)

	view := viewOf(sess, sess.Snapshot())
	ev := Event{Type: "session_opened", Session: sess.ID, State: &view}
	s.notifier.Publish(sess.PartyA, ev)
	s.notifier.Publish(sess.PartyB, ev)
	return view, nil
}

// DenyRequest removes the pending request and tells the sender.
func (s *Service) DenyRequest(ctx context.Context, target, expectedSender model.ActorID) error {
	if err := s.requests.Deny(target, expectedSender); err != nil {
		return err
	}
	metrics.PendingRequests.Set(float64(s.requests.Len()))
	s.notifier.Publish(expectedSender, Event{Type: "request_denied", From: target})
	return nil
}

// OpenSession returns a read snapshot of the negotiation.
func (s *Service) OpenSession(sessionID model.SessionID) (StateView, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return StateView{}, model.ErrSessionNotFound
	}
	return viewOf(sess, sess.Snapshot()), nil
}

func (s *Service) resolve(sessionID model.SessionID, actor model.ActorID) (*session.Session, session.Side, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, session.SideA, model.ErrSessionNotFound
	}
	side, ok := sess.SideOf(actor)
	if !ok {
		return nil, session.SideA, model.ErrNotParty
	}
	return sess, side, nil
}

// ModifyOffer replaces the actor's item offer wholesale. Items move into
// escrow as they are offered: the previous offer returns to the actor's
// inventory and the new one is withdrawn, all under the session's
// transition lock so settlement can never observe the swap half-done.
func (s *Service) ModifyOffer(ctx context.Context, sessionID model.SessionID, actor model.ActorID, offer model.Offer) (StateView, error) {
	sess, side, err := s.resolve(sessionID, actor)
	if err != nil {
		return StateView{}, err
	}

	st, err := sess.Transition(func(cur *session.State) (*session.State, error) {
		if cur.Status.Terminal() {
			return nil, model.ErrSessionClosed
		}
		old := cur.Offer(side)
		if err := s.inv.Deposit(ctx, actor, old.Stacks()); err != nil {
			return nil, err
		}
		if err := s.inv.Withdraw(ctx, actor, offer.Stacks()); err != nil {
			// Re-escrow the old offer; it was just deposited so this
			// cannot miss.
			if rerr := s.inv.Withdraw(ctx, actor, old.Stacks()); rerr != nil {
				slog.Error("failed to re-escrow offer", "session", sessionID, "actor", actor, "err", rerr)
			}
			return nil, err
		}
		return cur.WithOffer(side, offer), nil
	})
	if err != nil {
		return StateView{}, err
	}

	view := s.broadcastState(sess, st)
	return view, nil
}

// ModifyCurrency replaces the actor's currency offer.
func (s *Service) ModifyCurrency(ctx context.Context, sessionID model.SessionID, actor model.ActorID, amount decimal.Decimal) (StateView, error) {
	if amount.IsNegative() || amount.GreaterThan(s.engine.MaxPerTrade()) {
		return StateView{}, model.ErrInvalidAmount
	}

	sess, side, err := s.resolve(sessionID, actor)
	if err != nil {
		return StateView{}, err
	}

	st, err := sess.Transition(func(cur *session.State) (*session.State, error) {
		if cur.Status.Terminal() {
			return nil, model.ErrSessionClosed
		}
		return cur.WithCurrency(side, amount), nil
	})
	if err != nil {
		return StateView{}, err
	}

	view := s.broadcastState(sess, st)
	return view, nil
}

// ToggleConfirm sets the actor's confirmation flag. When the toggle makes
// both flags true the session transitions to BOTH_CONFIRMED and settlement
// runs immediately; a validation or transfer failure surfaces here with
// the session already rolled back.
func (s *Service) ToggleConfirm(ctx context.Context, sessionID model.SessionID, actor model.ActorID, confirmed bool) (StateView, error) {
	sess, side, err := s.resolve(sessionID, actor)
	if err != nil {
		return StateView{}, err
	}

	st, err := sess.Transition(func(cur *session.State) (*session.State, error) {
		if cur.Status.Terminal() {
			return nil, model.ErrSessionClosed
		}
		next := cur.WithConfirm(side, confirmed)
		if next.BothConfirmed() && next.Status == model.StatusNegotiating {
			next = next.WithStatus(model.StatusBothConfirmed)
		} else if !next.BothConfirmed() && next.Status == model.StatusBothConfirmed {
			// Withdrawn consent before settlement grabbed the lock.
			next = next.WithStatus(model.StatusNegotiating)
		}
		return next, nil
	})
	if err != nil {
		return StateView{}, err
	}

	if st.Status != model.StatusBothConfirmed {
		view := s.broadcastState(sess, st)
		return view, nil
	}

	final, settleErr := s.engine.Settle(ctx, sess)
	if !final.Status.Terminal() {
		// An edit slipped in between the confirm transition and the
		// settlement lock and withdrew consent; the session lives on.
		view := s.broadcastState(sess, final)
		return view, settleErr
	}

	s.finish(sess, final)
	if settleErr != nil {
		if errors.Is(settleErr, model.ErrLimitExceeded) {
			metrics.QuotaRejections.Inc()
		}
		return viewOf(sess, final), settleErr
	}
	return viewOf(sess, final), nil
}

// Cancel lets either party unilaterally abort at any point.
func (s *Service) Cancel(ctx context.Context, sessionID model.SessionID, actor model.ActorID, reason string) error {
	sess, _, err := s.resolve(sessionID, actor)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by " + string(actor)
	}

	final, err := s.engine.Rollback(ctx, sess, reason)
	if err != nil {
		return err
	}
	s.finish(sess, final)
	return nil
}

// OnDisconnect rolls back the actor's active session, if any. The
// remaining party must never be left holding a half-open negotiation.
func (s *Service) OnDisconnect(actor model.ActorID) {
	sid, ok := s.sessions.SessionOf(actor)
	if !ok {
		return
	}
	sess, ok := s.sessions.Get(sid)
	if !ok {
		return
	}

	slog.Info("actor disconnected mid-negotiation", "session", sid, "actor", actor)
	final, err := s.engine.Rollback(context.Background(), sess, model.ErrPeerDisconnected.Error())
	if err != nil {
		slog.Error("disconnect rollback failed", "session", sid, "err", err)
		return
	}
	s.finish(sess, final)
}

// finish tears the session down and notifies both parties of the terminal
// state. One-shot per session; duplicate callers return quietly.
func (s *Service) finish(sess *session.Session, st *session.State) {
	if !sess.Finish() {
		return
	}
	s.sessions.End(sess.ID)
	metrics.ActiveSessions.Set(float64(s.sessions.Active()))

	view := viewOf(sess, st)
	ev := Event{Session: sess.ID, State: &view, Reason: st.Reason}
	switch st.Status {
	case model.StatusSettled:
		ev.Type = "settled"
		metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	default:
		ev.Type = "rolled_back"
		metrics.SettlementsTotal.WithLabelValues("rolled_back").Inc()
	}
	s.notifier.Publish(sess.PartyA, ev)
	s.notifier.Publish(sess.PartyB, ev)
}

// broadcastState pushes the latest snapshot to both parties.
func (s *Service) broadcastState(sess *session.Session, st *session.State) StateView {
	view := viewOf(sess, st)
	ev := Event{Type: "state", Session: sess.ID, State: &view}
	s.notifier.Publish(sess.PartyA, ev)
	s.notifier.Publish(sess.PartyB, ev)
	return view
}
