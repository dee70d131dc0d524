package market

import (
	"context"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// settlementGuard rejects re-entrant calls.
//
// An operation records its entity keys in the context it hands to custody
// and payment adapters, so a callback reusing that context is rejected
// before it asks for a lock. While payments and custody move, the keys are
// also flagged in a shared set: any call targeting a flagged entity is
// rejected at once instead of queueing on the lock the settlement holds.
type settlementGuard struct {
	mu       sync.Mutex
	settling map[string]int
}

type inflightCtxKey struct{}

func newSettlementGuard() *settlementGuard {
	return &settlementGuard{settling: make(map[string]int)}
}

// check fails with ErrReentrantCall when ctx was issued by an in-flight
// operation on any of keys, or when any of keys is mid-settlement.
func (g *settlementGuard) check(ctx context.Context, keys ...string) error {
	held, _ := ctx.Value(inflightCtxKey{}).(map[string]struct{})
	for _, k := range keys {
		if _, ok := held[k]; ok {
			return domain.ErrReentrantCall
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		if g.settling[k] > 0 {
			return domain.ErrReentrantCall
		}
	}
	return nil
}

// enter returns a context carrying keys plus those of any enclosing
// operation.
func (g *settlementGuard) enter(ctx context.Context, keys ...string) context.Context {
	held := make(map[string]struct{}, len(keys))
	if parent, ok := ctx.Value(inflightCtxKey{}).(map[string]struct{}); ok {
		for k := range parent {
			held[k] = struct{}{}
		}
	}
	for _, k := range keys {
		held[k] = struct{}{}
	}
	return context.WithValue(ctx, inflightCtxKey{}, held)
}

// beginSettlement flags every key held by ctx until the returned func runs.
func (g *settlementGuard) beginSettlement(ctx context.Context) func() {
	held, _ := ctx.Value(inflightCtxKey{}).(map[string]struct{})
	g.mu.Lock()
	for k := range held {
		g.settling[k]++
	}
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			for k := range held {
				if g.settling[k]--; g.settling[k] <= 0 {
					delete(g.settling, k)
				}
			}
		})
	}
}

// acquire runs the guard check and takes the entity locks. The returned
// context must be used for every adapter call made while the locks are held.
func (e *Engine) acquire(ctx context.Context, keys ...string) (context.Context, func(), error) {
	if err := e.guard.check(ctx, keys...); err != nil {
		return nil, nil, err
	}
	unlock, err := e.lock(ctx, keys...)
	if err != nil {
		return nil, nil, err
	}
	return e.guard.enter(ctx, keys...), unlock, nil
}
