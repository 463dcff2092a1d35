// Package session holds the shared negotiation state for one trade and
// the registry that maps actors to their live session.
package session

import (
	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// Side addresses one of the two parties inside a State.
type Side int

const (
	SideA Side = iota
	SideB
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// State is an immutable snapshot of the shared negotiation. Every mutation
// produces a fresh value via the With* methods; the live pointer is swapped
// wholesale so concurrent readers never observe a torn update.
type State struct {
	OfferA     model.Offer
	OfferB     model.Offer
	CurrencyA  decimal.Decimal
	CurrencyB  decimal.Decimal
	ConfirmedA bool
	ConfirmedB bool
	Status     model.Status
	Reason     string // rollback reason, set on ROLLED_BACK only
}

// NewState returns the initial all-empty NEGOTIATING state.
func NewState() *State {
	return &State{
		OfferA:    model.Offer{},
		OfferB:    model.Offer{},
		CurrencyA: decimal.Zero,
		CurrencyB: decimal.Zero,
		Status:    model.StatusNegotiating,
	}
}

func (s *State) clone() *State {
	c := *s
	c.OfferA = s.OfferA.Clone()
	c.OfferB = s.OfferB.Clone()
	return &c
}

// Offer returns the given side's item offer.
func (s *State) Offer(side Side) model.Offer {
	if side == SideA {
		return s.OfferA
	}
	return s.OfferB
}

// Currency returns the given side's currency offer.
func (s *State) Currency(side Side) decimal.Decimal {
	if side == SideA {
		return s.CurrencyA
	}
	return s.CurrencyB
}

// Confirmed returns the given side's confirmation flag.
func (s *State) Confirmed(side Side) bool {
	if side == SideA {
		return s.ConfirmedA
	}
	return s.ConfirmedB
}

// BothConfirmed reports whether both flags are set.
func (s *State) BothConfirmed() bool {
	return s.ConfirmedA && s.ConfirmedB
}

// WithOffer replaces one side's item offer wholesale. Any offer edit
// withdraws prior consent: both confirmation flags clear and the status
// drops back to NEGOTIATING, cancelling a not-yet-settled BOTH_CONFIRMED.
func (s *State) WithOffer(side Side, offer model.Offer) *State {
	c := s.clone()
	if side == SideA {
		c.OfferA = offer.Clone()
	} else {
		c.OfferB = offer.Clone()
	}
	c.invalidateConsent()
	return c
}

// WithCurrency replaces one side's currency offer. Same consent-clearing
// effect as WithOffer.
func (s *State) WithCurrency(side Side, amount decimal.Decimal) *State {
	c := s.clone()
	if side == SideA {
		c.CurrencyA = amount
	} else {
		c.CurrencyB = amount
	}
	c.invalidateConsent()
	return c
}

// WithConfirm sets one side's confirmation flag.
func (s *State) WithConfirm(side Side, confirmed bool) *State {
	c := s.clone()
	if side == SideA {
		c.ConfirmedA = confirmed
	} else {
		c.ConfirmedB = confirmed
	}
	return c
}

// WithStatus advances the status.
func (s *State) WithStatus(status model.Status) *State {
	c := s.clone()
	c.Status = status
	return c
}

// WithRollback marks the state rolled back with the given reason.
func (s *State) WithRollback(reason string) *State {
	c := s.clone()
	c.Status = model.StatusRolledBack
	c.Reason = reason
	return c
}

func (s *State) invalidateConsent() {
	s.ConfirmedA = false
	s.ConfirmedB = false
	if s.Status == model.StatusBothConfirmed {
		s.Status = model.StatusNegotiating
	}
}
