package engine

import (
	"context"
)

// Grant credits RP up to the epoch cap using compare-and-swap. A grant that
// loses the swap to a concurrent spend is dropped rather than retried; the
// next cycle grants again. Returns the resulting balance.
func (e Engine) Grant(ctx context.Context, epochID, worldID string, amount, cap int) (int, error) {
	if amount < 0 {
		return 0, ValidationError{Field: "amount", Reason: "must be non-negative"}
	}
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		return 0, err
	}
	next := p.CurrentRP + amount
	if next > cap {
		next = cap
	}
	if next == p.CurrentRP {
		return p.CurrentRP, nil
	}
	ok, fresh, err := e.Repo.CompareAndSwapRP(ctx, epochID, worldID, p.CurrentRP, next)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fresh, nil
	}
	if err := e.Repo.SetParticipantGrant(ctx, epochID, worldID, e.nowRFC3339()); err != nil {
		return next, err
	}
	return next, nil
}

// Spend debits RP via compare-and-swap. A lost swap surfaces as
// ErrConcurrentModification; the caller re-reads and retries. The debit is
// never partially applied.
func (e Engine) Spend(ctx context.Context, epochID, worldID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ValidationError{Field: "amount", Reason: "must be positive"}
	}
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		return 0, err
	}
	if p.CurrentRP < amount {
		return p.CurrentRP, InsufficientResource{Have: p.CurrentRP, Need: amount}
	}
	ok, fresh, err := e.Repo.CompareAndSwapRP(ctx, epochID, worldID, p.CurrentRP, p.CurrentRP-amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fresh, ErrConcurrentModification
	}
	return p.CurrentRP - amount, nil
}

// refund credits back a spend whose follow-on write failed. Best effort; a
// lost swap here is logged and dropped.
func (e Engine) refund(ctx context.Context, epochID, worldID string, amount int) {
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		e.logger().Printf("refund %d rp to %s/%s: %v", amount, epochID, worldID, err)
		return
	}
	if ok, _, err := e.Repo.CompareAndSwapRP(ctx, epochID, worldID, p.CurrentRP, p.CurrentRP+amount); err != nil || !ok {
		e.logger().Printf("refund %d rp to %s/%s lost: ok=%v err=%v", amount, epochID, worldID, ok, err)
	}
}
