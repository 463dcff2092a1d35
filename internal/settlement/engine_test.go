package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/inventory"
	"github.com/questforge/trade-engine/internal/model"
	"github.com/questforge/trade-engine/internal/quota"
	"github.com/questforge/trade-engine/internal/session"
	"github.com/questforge/trade-engine/internal/settlement"
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

type allPresent struct{}

func (allPresent) Reachable(model.ActorID) bool { return true }

type presenceMap map[model.ActorID]bool

func (p presenceMap) Reachable(a model.ActorID) bool { return p[a] }

type env struct {
	inv      *inventory.Memory
	limiter  *quota.Limiter
	engine   *settlement.Engine
	registry *session.Registry
}

func newEnv(t *testing.T, presence settlement.Presence, ceiling decimal.Decimal) *env {
	t.Helper()
	if presence == nil {
		presence = allPresent{}
	}
	inv := inventory.NewMemory(0)
	limiter := quota.New(quota.NewMemoryStore(), nil, func(model.ActorID) int { return 10 })
	return &env{
		inv:      inv,
		limiter:  limiter,
		engine:   settlement.NewEngine(inv, limiter, presence, ceiling),
		registry: session.NewRegistry(),
	}
}

// confirmed opens a session and drives it to BOTH_CONFIRMED with the given
// offers. Offered items are treated as already escrowed (out of the
// owners' inventories), matching how the façade moves them on modifyOffer.
func confirmed(t *testing.T, e *env, offerA, offerB model.Offer, curA, curB decimal.Decimal) *session.Session {
	t.Helper()
	sess, err := e.registry.Start("alice", "bob")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	_, err = sess.Transition(func(cur *session.State) (*session.State, error) {
		st := cur.WithOffer(session.SideA, offerA).
			WithOffer(session.SideB, offerB).
			WithCurrency(session.SideA, curA).
			WithCurrency(session.SideB, curB).
			WithConfirm(session.SideA, true).
			WithConfirm(session.SideB, true).
			WithStatus(model.StatusBothConfirmed)
		return st, nil
	})
	if err != nil {
		t.Fatalf("drive state: %v", err)
	}
	return sess
}

func sword() model.Offer {
	return model.Offer{0: {ItemID: "aspect_of_the_end", Count: 1}}
}

func TestSettle_ItemsForCurrency(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	// Alice pays 10M for Bob's sword (already escrowed).
	e.inv.Grant("alice", nil, d(20_000_000))
	sess := confirmed(t, e, nil, sword(), d(10_000_000), decimal.Zero)

	st, err := e.engine.Settle(ctx, sess)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if st.Status != model.StatusSettled {
		t.Fatalf("status = %s, want SETTLED", st.Status)
	}

	if got := e.inv.Items("alice")["aspect_of_the_end"]; got != 1 {
		t.Errorf("alice swords = %d, want 1", got)
	}
	if got := e.inv.Items("bob")["aspect_of_the_end"]; got != 0 {
		t.Errorf("bob swords = %d, want 0", got)
	}

	balA, _ := e.inv.Balance(ctx, "alice")
	balB, _ := e.inv.Balance(ctx, "bob")
	if !balA.Equal(d(10_000_000)) {
		t.Errorf("alice balance = %s, want 10000000", balA)
	}
	if !balB.Equal(d(10_000_000)) {
		t.Errorf("bob balance = %s, want 10000000", balB)
	}
}

func TestSettle_QuotaMetersReceivedOnly(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(20_000_000))
	sess := confirmed(t, e, nil, sword(), d(10_000_000), decimal.Zero)

	if _, err := e.engine.Settle(ctx, sess); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Bob received the 10M, so only his intake counter moves. Alice sent
	// currency and received an item: her counter stays untouched.
	remA, _ := e.limiter.Remaining(ctx, "alice")
	remB, _ := e.limiter.Remaining(ctx, "bob")
	if !remA.Equal(d(50_000_000)) {
		t.Errorf("alice remaining = %s, want full 50000000", remA)
	}
	if !remB.Equal(d(40_000_000)) {
		t.Errorf("bob remaining = %s, want 40000000", remB)
	}
}

func TestSettle_Idempotent(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(5_000))
	sess := confirmed(t, e, nil, sword(), d(5_000), decimal.Zero)

	if _, err := e.engine.Settle(ctx, sess); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	st, err := e.engine.Settle(ctx, sess)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if st.Status != model.StatusSettled {
		t.Errorf("status = %s, want SETTLED", st.Status)
	}

	// The transfer ran exactly once.
	balB, _ := e.inv.Balance(ctx, "bob")
	if !balB.Equal(d(5_000)) {
		t.Errorf("bob balance = %s, want 5000 (single transfer)", balB)
	}
	if got := e.inv.Items("alice")["aspect_of_the_end"]; got != 1 {
		t.Errorf("alice swords = %d, want 1", got)
	}
}

func TestSettle_ConcurrentSingleFlight(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(1_000))
	sess := confirmed(t, e, nil, sword(), d(1_000), decimal.Zero)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.engine.Settle(ctx, sess)
		}()
	}
	wg.Wait()

	balB, _ := e.inv.Balance(ctx, "bob")
	if !balB.Equal(d(1_000)) {
		t.Errorf("bob balance = %s, want 1000 (exactly one transfer)", balB)
	}
}

func TestSettle_NoOpUnlessBothConfirmed(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	sess, _ := e.registry.Start("alice", "bob")

	st, err := e.engine.Settle(context.Background(), sess)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if st.Status != model.StatusNegotiating {
		t.Errorf("status = %s, want NEGOTIATING (untouched)", st.Status)
	}
}

func TestSettle_CeilingExceeded_RollsBack(t *testing.T) {
	// Small test ceiling; the offered 600M is far over it.
	e := newEnv(t, nil, d(1_000_000))
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(900_000_000))
	sess := confirmed(t, e, nil, sword(), d(600_000_000), decimal.Zero)

	st, err := e.engine.Settle(ctx, sess)
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", st.Status)
	}

	// Bob's escrowed sword came back to Bob, not to Alice.
	if got := e.inv.Items("bob")["aspect_of_the_end"]; got != 1 {
		t.Errorf("bob swords = %d, want 1 (returned to origin)", got)
	}
	if got := e.inv.Items("alice")["aspect_of_the_end"]; got != 0 {
		t.Errorf("alice swords = %d, want 0", got)
	}

	// Currency never moved.
	balA, _ := e.inv.Balance(ctx, "alice")
	if !balA.Equal(d(900_000_000)) {
		t.Errorf("alice balance = %s, want untouched 900000000", balA)
	}
}

func TestSettle_DailyQuotaExceeded_RollsBack(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	// Bob already took 45M in today; another 10M would breach his 50M tier.
	e.limiter.RecordIntake(ctx, "bob", d(45_000_000))
	e.inv.Grant("alice", nil, d(10_000_000))
	sess := confirmed(t, e, nil, sword(), d(10_000_000), decimal.Zero)

	st, err := e.engine.Settle(ctx, sess)
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", st.Status)
	}
	// The rejected amount was never recorded against Bob.
	remB, _ := e.limiter.Remaining(ctx, "bob")
	if !remB.Equal(d(5_000_000)) {
		t.Errorf("bob remaining = %s, want 5000000", remB)
	}
}

func TestSettle_InsufficientBalance_RollsBack(t *testing.T) {
	// Alice's wallet was drained between offer and confirm; commit-time
	// re-validation catches it.
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(5_000))
	sess := confirmed(t, e, nil, sword(), d(10_000), decimal.Zero)

	st, err := e.engine.Settle(ctx, sess)
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", st.Status)
	}
	if got := e.inv.Items("bob")["aspect_of_the_end"]; got != 1 {
		t.Errorf("bob swords = %d, want 1 (returned)", got)
	}
}

func TestSettle_UnreachableParty_RollsBack(t *testing.T) {
	e := newEnv(t, presenceMap{"alice": true}, decimal.Zero) // bob offline

	sess := confirmed(t, e, sword(), nil, decimal.Zero, decimal.Zero)

	st, err := e.engine.Settle(context.Background(), sess)
	if !errors.Is(err, model.ErrUnreachableActor) {
		t.Fatalf("err = %v, want ErrUnreachableActor", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", st.Status)
	}
	if got := e.inv.Items("alice")["aspect_of_the_end"]; got != 1 {
		t.Errorf("alice swords = %d, want 1 (returned to origin)", got)
	}
}

func TestSettle_ReceiverInventoryFull_RollsBack(t *testing.T) {
	inv := inventory.NewMemory(2)
	limiter := quota.New(quota.NewMemoryStore(), nil, nil)
	engine := settlement.NewEngine(inv, limiter, allPresent{}, decimal.Zero)
	registry := session.NewRegistry()

	// Bob's two slots are already taken by other item kinds.
	inv.Grant("bob", []model.Stack{{ItemID: "dirt", Count: 64}, {ItemID: "stone", Count: 64}}, decimal.Zero)

	sess, _ := registry.Start("alice", "bob")
	sess.Transition(func(cur *session.State) (*session.State, error) {
		return cur.WithOffer(session.SideA, sword()).
			WithConfirm(session.SideA, true).
			WithConfirm(session.SideB, true).
			WithStatus(model.StatusBothConfirmed), nil
	})

	st, err := engine.Settle(context.Background(), sess)
	if !errors.Is(err, model.ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", st.Status)
	}
	if got := inv.Items("alice")["aspect_of_the_end"]; got != 1 {
		t.Errorf("alice swords = %d, want 1 (no partial transfer)", got)
	}
	if got := inv.Items("bob")["aspect_of_the_end"]; got != 0 {
		t.Errorf("bob swords = %d, want 0", got)
	}
}

func TestRollback_ReturnsItemsToOrigin(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	offerA := model.Offer{0: {ItemID: "hyperion", Count: 1}}
	offerB := model.Offer{0: {ItemID: "necron_chestplate", Count: 1}, 3: {ItemID: "wither_catalyst", Count: 4}}
	sess := confirmed(t, e, offerA, offerB, d(100), d(200))

	st, err := e.engine.Rollback(ctx, sess, "cancelled by alice")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if st.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want ROLLED_BACK", st.Status)
	}
	if st.Reason != "cancelled by alice" {
		t.Errorf("reason = %q", st.Reason)
	}

	// Every item goes home, never across.
	if got := e.inv.Items("alice")["hyperion"]; got != 1 {
		t.Errorf("alice hyperion = %d, want 1", got)
	}
	if got := e.inv.Items("bob")["necron_chestplate"]; got != 1 {
		t.Errorf("bob chestplate = %d, want 1", got)
	}
	if got := e.inv.Items("bob")["wither_catalyst"]; got != 4 {
		t.Errorf("bob catalysts = %d, want 4", got)
	}
	if got := e.inv.Items("bob")["hyperion"]; got != 0 {
		t.Errorf("bob hyperion = %d, want 0", got)
	}

	// Currency untouched: nothing was ever debited.
	balA, _ := e.inv.Balance(ctx, "alice")
	balB, _ := e.inv.Balance(ctx, "bob")
	if !balA.IsZero() || !balB.IsZero() {
		t.Errorf("balances = %s/%s, want 0/0", balA, balB)
	}
}

func TestRollback_TerminalNoOp(t *testing.T) {
	e := newEnv(t, nil, decimal.Zero)
	ctx := context.Background()

	e.inv.Grant("alice", nil, d(1_000))
	sess := confirmed(t, e, nil, sword(), d(1_000), decimal.Zero)

	if _, err := e.engine.Settle(ctx, sess); err != nil {
		t.Fatalf("settle: %v", err)
	}

	st, err := e.engine.Rollback(ctx, sess, "too late")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if st.Status != model.StatusSettled {
		t.Errorf("status = %s, want SETTLED (rollback after settle is a no-op)", st.Status)
	}
	// Nothing was double-returned.
	if got := e.inv.Items("alice")["aspect_of_the_end"]; got != 1 {
		t.Errorf("alice swords = %d, want 1", got)
	}
}
