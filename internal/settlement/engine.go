// Package settlement validates and executes the atomic transfer for a
// fully confirmed negotiation, or rolls it back and returns every offered
// item to its original owner.
package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/questforge/trade-engine/internal/inventory"
	"github.com/questforge/trade-engine/internal/model"
	"github.com/questforge/trade-engine/internal/quota"
	"github.com/questforge/trade-engine/internal/session"
)

// Presence resolves whether an actor is currently reachable. Backed by
// the websocket hub in the server; stubbed in tests.
type Presence interface {
	Reachable(actor model.ActorID) bool
}

// Engine performs settlement and rollback. Exactly one transfer ever runs
// per session: calls are collapsed through singleflight and re-checked
// against the status inside the session's transition lock.
type Engine struct {
	inv         inventory.Inventory
	limiter     *quota.Limiter
	presence    Presence
	maxPerTrade decimal.Decimal
	group       singleflight.Group
}

// NewEngine creates a settlement engine. maxPerTrade zero or negative
// uses model.MaxPerTrade.
func NewEngine(inv inventory.Inventory, limiter *quota.Limiter, presence Presence, maxPerTrade decimal.Decimal) *Engine {
	if maxPerTrade.LessThanOrEqual(decimal.Zero) {
		maxPerTrade = model.MaxPerTrade
	}
	return &Engine{
		inv:         inv,
		limiter:     limiter,
		presence:    presence,
		maxPerTrade: maxPerTrade,
	}
}

// MaxPerTrade returns the single-trade currency ceiling in force.
func (e *Engine) MaxPerTrade() decimal.Decimal { return e.maxPerTrade }

// Settle executes the transfer for a BOTH_CONFIRMED session. Calls for a
// session in any other status are no-ops returning the current state, so
// re-entrant settlement and the edit-after-confirm race both short-circuit
// here. On validation or transfer failure the session is rolled back in
// the same critical section and the failure is returned.
func (e *Engine) Settle(ctx context.Context, sess *session.Session) (*session.State, error) {
	v, err, _ := e.group.Do(string(sess.ID), func() (any, error) {
		return sess.Transition(func(cur *session.State) (*session.State, error) {
			if cur.Status != model.StatusBothConfirmed {
				return nil, nil // edited away or already settled; nothing to do
			}
			if err := e.validate(ctx, sess, cur); err != nil {
				st := e.returnEscrow(ctx, sess, cur, err.Error())
				return st, err
			}
			return e.transfer(ctx, sess, cur)
		})
	})
	if v == nil {
		return sess.Snapshot(), err
	}
	return v.(*session.State), err
}

// Rollback aborts the session, returning all escrowed items to their
// offering parties. Currency is never provisionally held, so there is
// nothing to reverse on that side. No-op on already-terminal sessions.
func (e *Engine) Rollback(ctx context.Context, sess *session.Session, reason string) (*session.State, error) {
	return sess.Transition(func(cur *session.State) (*session.State, error) {
		if cur.Status.Terminal() {
			return nil, nil
		}
		return e.returnEscrow(ctx, sess, cur, reason), nil
	})
}

// validate re-checks everything from scratch at commit time: offers may be
// minutes old and limits, balances, or connectivity may have moved.
func (e *Engine) validate(ctx context.Context, sess *session.Session, st *session.State) error {
	for _, side := range []session.Side{session.SideA, session.SideB} {
		actor := sess.Party(side)
		offered := st.Currency(side)

		if offered.IsNegative() || offered.GreaterThan(e.maxPerTrade) {
			return fmt.Errorf("%w: %s offers %s, ceiling %s",
				model.ErrLimitExceeded, actor, offered, e.maxPerTrade)
		}

		if !e.presence.Reachable(actor) {
			return fmt.Errorf("%w: %s", model.ErrUnreachableActor, actor)
		}

		// Balance is only checked now, never held at offer time, so a
		// wallet drained through another code path since the offer was
		// built is caught here.
		if offered.IsPositive() {
			balance, err := e.inv.Balance(ctx, actor)
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
			}
			if balance.LessThan(offered) {
				return fmt.Errorf("%w: %s balance %s < offered %s",
					model.ErrLimitExceeded, actor, balance, offered)
			}
		}

		// Daily quota meters what this party is about to receive.
		incoming := st.Currency(side.Other())
		ok, err := e.limiter.CanAccept(ctx, actor, incoming)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s cannot accept %s today",
				model.ErrLimitExceeded, actor, incoming)
		}
	}
	return nil
}

// transfer moves items and currency. Capacity is validated for all
// outgoing items before any is moved, so a failure here never leaves a
// partial transfer behind.
func (e *Engine) transfer(ctx context.Context, sess *session.Session, st *session.State) (*session.State, error) {
	stacksA := st.OfferA.Stacks() // A's items, destined for B
	stacksB := st.OfferB.Stacks() // B's items, destined for A

	if err := e.inv.CanDeposit(ctx, sess.PartyB, stacksA); err != nil {
		return e.returnEscrow(ctx, sess, st, err.Error()),
			fmt.Errorf("%w: %s cannot receive items", model.ErrSettlementFailed, sess.PartyB)
	}
	if err := e.inv.CanDeposit(ctx, sess.PartyA, stacksB); err != nil {
		return e.returnEscrow(ctx, sess, st, err.Error()),
			fmt.Errorf("%w: %s cannot receive items", model.ErrSettlementFailed, sess.PartyA)
	}

	// Items first: deliver A's offer to B, then B's offer to A.
	if err := e.inv.Deposit(ctx, sess.PartyB, stacksA); err != nil {
		return e.returnEscrow(ctx, sess, st, err.Error()),
			fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
	}
	if err := e.inv.Deposit(ctx, sess.PartyA, stacksB); err != nil {
		// A's items already landed at B; pull them back before rolling
		// B's items to their owner. Partial success must never stand.
		if werr := e.inv.Withdraw(ctx, sess.PartyB, stacksA); werr != nil {
			slog.Error("settlement remediation failed, items duplicated at receiver",
				"session", sess.ID, "receiver", sess.PartyB, "err", werr)
		} else if derr := e.inv.Deposit(ctx, sess.PartyA, stacksA); derr != nil {
			slog.Error("settlement remediation failed, items in limbo",
				"session", sess.ID, "owner", sess.PartyA, "err", derr)
		}
		st2 := st.WithRollback(err.Error())
		return st2, fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
	}

	// Currency deltas, symmetric: debit each sender, credit each receiver.
	// Balances were validated above; a failure here is a host-store fault.
	if st.CurrencyA.IsPositive() {
		if err := e.inv.Debit(ctx, sess.PartyA, st.CurrencyA); err != nil {
			return st.WithRollback(err.Error()), fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
		}
		if err := e.inv.Credit(ctx, sess.PartyB, st.CurrencyA); err != nil {
			return st.WithRollback(err.Error()), fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
		}
	}
	if st.CurrencyB.IsPositive() {
		if err := e.inv.Debit(ctx, sess.PartyB, st.CurrencyB); err != nil {
			return st.WithRollback(err.Error()), fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
		}
		if err := e.inv.Credit(ctx, sess.PartyA, st.CurrencyB); err != nil {
			return st.WithRollback(err.Error()), fmt.Errorf("%w: %v", model.ErrSettlementFailed, err)
		}
	}

	// Quota records consumption against each *receiver*, only after the
	// transfer is irrevocably committed.
	if err := e.limiter.RecordIntake(ctx, sess.PartyB, st.CurrencyA); err != nil {
		slog.Error("quota record failed after settlement", "session", sess.ID, "actor", sess.PartyB, "err", err)
	}
	if err := e.limiter.RecordIntake(ctx, sess.PartyA, st.CurrencyB); err != nil {
		slog.Error("quota record failed after settlement", "session", sess.ID, "actor", sess.PartyA, "err", err)
	}

	slog.Info("trade settled",
		"session", sess.ID,
		"party_a", sess.PartyA,
		"party_b", sess.PartyB,
		"currency_a", st.CurrencyA.String(),
		"currency_b", st.CurrencyB.String(),
		"items_a", len(stacksA),
		"items_b", len(stacksB),
	)
	return st.WithStatus(model.StatusSettled), nil
}

// returnEscrow deposits every offered item back to its offering party —
// never to the counterpart — and produces the ROLLED_BACK state.
func (e *Engine) returnEscrow(ctx context.Context, sess *session.Session, st *session.State, reason string) *session.State {
	if err := e.inv.Deposit(ctx, sess.PartyA, st.OfferA.Stacks()); err != nil {
		slog.Error("rollback item return failed", "session", sess.ID, "actor", sess.PartyA, "err", err)
	}
	if err := e.inv.Deposit(ctx, sess.PartyB, st.OfferB.Stacks()); err != nil {
		slog.Error("rollback item return failed", "session", sess.ID, "actor", sess.PartyB, "err", err)
	}

	slog.Info("trade rolled back", "session", sess.ID, "reason", reason)
	return st.WithRollback(reason)
}
