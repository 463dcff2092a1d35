// Package request tracks pending trade invitations, at most one live
// request per target. Expiry is lazy: every lookup self-evicts lapsed
// entries, and a periodic sweep bounds memory for targets nobody reads.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/questforge/trade-engine/internal/model"
)

// Registry stores one pending request per target actor.
//
// All mutations go through sync.Map compare-and-swap operations keyed by
// target, so read-modify-write never interleaves for the same target while
// unrelated targets proceed without shared locking.
type Registry struct {
	pending sync.Map // model.ActorID (target) → model.TradeRequest
	ttl     time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewRegistry creates a registry with the given request TTL; ttl <= 0 uses
// model.DefaultRequestTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = model.DefaultRequestTTL
	}
	return &Registry{ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Test helper.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Registry) clock() time.Time {
	r.mu.Lock()
	now := r.now
	r.mu.Unlock()
	return now()
}

// Send installs a request from sender to target. It fails with
// model.ErrRequestPending while a live request for the target exists —
// including a duplicate send from the same sender.
func (r *Registry) Send(sender, target model.ActorID) (model.TradeRequest, error) {
	if sender == target {
		return model.TradeRequest{}, model.ErrSelfTrade
	}

	req := model.TradeRequest{
		ID:        uuid.New().String(),
		Sender:    sender,
		Target:    target,
		CreatedAt: r.clock(),
		TTL:       r.ttl,
	}

	for {
		actual, loaded := r.pending.LoadOrStore(target, req)
		if !loaded {
			return req, nil
		}
		existing := actual.(model.TradeRequest)
		if !existing.Expired(r.clock()) {
			if existing.Sender == sender {
				return model.TradeRequest{}, fmt.Errorf("%w: already sent to %s", model.ErrRequestPending, target)
			}
			return model.TradeRequest{}, model.ErrRequestPending
		}
		// Lapsed entry: replace it atomically, retry on contention.
		if r.pending.CompareAndSwap(target, actual, req) {
			return req, nil
		}
	}
}

// Get returns the live request for target, evicting it if expired.
func (r *Registry) Get(target model.ActorID) (model.TradeRequest, error) {
	actual, ok := r.pending.Load(target)
	if !ok {
		return model.TradeRequest{}, model.ErrNoPendingRequest
	}
	req := actual.(model.TradeRequest)
	if req.Expired(r.clock()) {
		r.pending.CompareAndDelete(target, actual)
		return model.TradeRequest{}, model.ErrRequestExpired
	}
	return req, nil
}

// GetFrom returns the live request for target only if it came from the
// expected sender. Used for accept/deny address verification.
func (r *Registry) GetFrom(sender, target model.ActorID) (model.TradeRequest, error) {
	req, err := r.Get(target)
	if err != nil {
		return model.TradeRequest{}, err
	}
	if req.Sender != sender {
		return model.TradeRequest{}, fmt.Errorf("%w from %s", model.ErrNoPendingRequest, sender)
	}
	return req, nil
}

// Take removes and returns the live request for target from the expected
// sender, as one atomic step. Used by accept.
func (r *Registry) Take(sender, target model.ActorID) (model.TradeRequest, error) {
	for {
		actual, ok := r.pending.Load(target)
		if !ok {
			return model.TradeRequest{}, model.ErrNoPendingRequest
		}
		req := actual.(model.TradeRequest)
		if req.Expired(r.clock()) {
			r.pending.CompareAndDelete(target, actual)
			return model.TradeRequest{}, model.ErrRequestExpired
		}
		if req.Sender != sender {
			return model.TradeRequest{}, fmt.Errorf("%w from %s", model.ErrNoPendingRequest, sender)
		}
		if r.pending.CompareAndDelete(target, actual) {
			return req, nil
		}
	}
}

// Deny removes the pending request for target. When expectedSender is
// non-empty the removal only happens if the live request came from them.
func (r *Registry) Deny(target model.ActorID, expectedSender model.ActorID) error {
	actual, ok := r.pending.Load(target)
	if !ok {
		return model.ErrNoPendingRequest
	}
	req := actual.(model.TradeRequest)
	if req.Expired(r.clock()) {
		r.pending.CompareAndDelete(target, actual)
		return model.ErrRequestExpired
	}
	if expectedSender != "" && req.Sender != expectedSender {
		return fmt.Errorf("%w from %s", model.ErrNoPendingRequest, expectedSender)
	}
	if !r.pending.CompareAndDelete(target, actual) {
		return model.ErrNoPendingRequest
	}
	return nil
}

// Sweep evicts all expired requests and returns how many were removed.
// Maintenance only: lookups self-evict, this just bounds memory.
func (r *Registry) Sweep() int {
	now := r.clock()
	evicted := 0
	r.pending.Range(func(key, value any) bool {
		if value.(model.TradeRequest).Expired(now) {
			if r.pending.CompareAndDelete(key, value) {
				evicted++
			}
		}
		return true
	})
	return evicted
}

// Len returns the number of tracked requests, expired or not.
func (r *Registry) Len() int {
	n := 0
	r.pending.Range(func(_, _ any) bool { n++; return true })
	return n
}

// RunSweeper evicts expired requests every interval until ctx is done.
// Must be called in a goroutine.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("swept expired trade requests", "evicted", n)
			}
		}
	}
}
