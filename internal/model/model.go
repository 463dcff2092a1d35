// Package model defines the core domain types shared across the trade engine.
// All currency amounts use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActorID identifies a player in the hosting application.
type ActorID string

// SessionID identifies one live negotiation between two actors.
type SessionID string

// Stack is one item stack as it appears in an offer slot.
type Stack struct {
	ItemID string            `json:"item_id"`
	Count  int               `json:"count"`
	Meta   map[string]string `json:"meta,omitempty"` // enchantments etc., opaque here
}

// Offer maps offer-window slot → stack. Duplicate item ids in different
// slots stay distinct; slots are never merged.
type Offer map[int]Stack

// Clone returns a copy safe to hold across state replacements.
func (o Offer) Clone() Offer {
	if o == nil {
		return nil
	}
	c := make(Offer, len(o))
	for slot, st := range o {
		c[slot] = st
	}
	return c
}

// Stacks flattens the offer into a slice, slot order not guaranteed.
func (o Offer) Stacks() []Stack {
	if len(o) == 0 {
		return nil
	}
	stacks := make([]Stack, 0, len(o))
	for _, st := range o {
		stacks = append(stacks, st)
	}
	return stacks
}

// Status is the negotiation lifecycle state. It only advances
// NEGOTIATING → BOTH_CONFIRMED → {SETTLED | ROLLED_BACK}; the single
// allowed regression is BOTH_CONFIRMED → NEGOTIATING when an offer edit
// lands before settlement executes.
type Status string

const (
	StatusNegotiating   Status = "NEGOTIATING"
	StatusBothConfirmed Status = "BOTH_CONFIRMED"
	StatusSettled       Status = "SETTLED"
	StatusRolledBack    Status = "ROLLED_BACK"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRolledBack
}

// DefaultRequestTTL is how long a trade invitation stays accept-able.
const DefaultRequestTTL = 60 * time.Second

// TradeRequest is a pending invitation from Sender to Target.
type TradeRequest struct {
	ID        string        `json:"id"`
	Sender    ActorID       `json:"sender"`
	Target    ActorID       `json:"target"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the request lapses.
func (r TradeRequest) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.TTL)
}

// Expired reports whether the request has lapsed at the given instant.
func (r TradeRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// MaxPerTrade is the default single-trade currency ceiling. It is a
// contract constant, independent of any actor's daily quota.
var MaxPerTrade = decimal.NewFromInt(1_024_000_000)
