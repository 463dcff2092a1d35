package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// DefaultSlotCapacity matches the standard player inventory size.
const DefaultSlotCapacity = 36

// Memory implements Inventory with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type Memory struct {
	mu       sync.Mutex
	capacity int
	actors   map[model.ActorID]*holdings
}

type holdings struct {
	items   map[string]int // item id → total count
	balance decimal.Decimal
}

// NewMemory creates an in-memory inventory with the given slot capacity
// per actor; capacity <= 0 uses DefaultSlotCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultSlotCapacity
	}
	return &Memory{
		capacity: capacity,
		actors:   make(map[model.ActorID]*holdings),
	}
}

func (m *Memory) holdings(actor model.ActorID) *holdings {
	h, ok := m.actors[actor]
	if !ok {
		h = &holdings{items: make(map[string]int), balance: decimal.Zero}
		m.actors[actor] = h
	}
	return h
}

// Grant seeds an actor with items and currency. Test/dev helper.
func (m *Memory) Grant(actor model.ActorID, stacks []model.Stack, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)
	for _, st := range stacks {
		h.items[st.ItemID] += st.Count
	}
	h.balance = h.balance.Add(amount)
}

// Items returns a copy of the actor's item counts. Test/dev helper.
func (m *Memory) Items(actor model.ActorID) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)
	items := make(map[string]int, len(h.items))
	for id, n := range h.items {
		items[id] = n
	}
	return items
}

func (m *Memory) Withdraw(_ context.Context, actor model.ActorID, stacks []model.Stack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)

	// Validate the whole withdrawal before applying any of it.
	need := make(map[string]int)
	for _, st := range stacks {
		need[st.ItemID] += st.Count
	}
	for id, n := range need {
		if h.items[id] < n {
			return fmt.Errorf("%w: %s x%d", model.ErrInvalidOffer, id, n)
		}
	}

	for id, n := range need {
		h.items[id] -= n
		if h.items[id] == 0 {
			delete(h.items, id)
		}
	}
	return nil
}

func (m *Memory) CanDeposit(_ context.Context, actor model.ActorID, stacks []model.Stack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)
	used := len(h.items)
	for _, st := range stacks {
		if _, held := h.items[st.ItemID]; !held {
			used++
		}
	}
	if used > m.capacity {
		return fmt.Errorf("%w: inventory full for %s", model.ErrSettlementFailed, actor)
	}
	return nil
}

func (m *Memory) Deposit(_ context.Context, actor model.ActorID, stacks []model.Stack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deposits always land, even past capacity: returned escrow must never
	// be dropped. CanDeposit is the pre-check that keeps settlement from
	// getting here over capacity.
	h := m.holdings(actor)
	for _, st := range stacks {
		h.items[st.ItemID] += st.Count
	}
	return nil
}

func (m *Memory) Balance(_ context.Context, actor model.ActorID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.holdings(actor).balance, nil
}

func (m *Memory) Debit(_ context.Context, actor model.ActorID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)
	if h.balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s < %s", model.ErrLimitExceeded, h.balance, amount)
	}
	h.balance = h.balance.Sub(amount)
	return nil
}

func (m *Memory) Credit(_ context.Context, actor model.ActorID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings(actor)
	h.balance = h.balance.Add(amount)
	return nil
}
