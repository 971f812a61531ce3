package core

import (
	"context"

	"clearinghouse/internal/ingestion"
)

type op struct {
	fn   func(*ClearingHouse)
	done chan struct{}
}

// Runner owns the core goroutine. All ledger mutations funnel through its
// single loop, so operations from concurrent clients are applied in a total
// order and the winner of any precondition race is whichever arrived first.
type Runner struct {
	ch      *ClearingHouse
	ops     chan op
	priceCh <-chan ingestion.PriceUpdate
}

func NewRunner(ch *ClearingHouse, opBuffer int, priceCh <-chan ingestion.PriceUpdate) *Runner {
	return &Runner{
		ch:      ch,
		ops:     make(chan op, opBuffer),
		priceCh: priceCh,
	}
}

// Run processes operations and price updates until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case o := <-r.ops:
			o.fn(r.ch)
			close(o.done)

		case upd, ok := <-r.priceCh:
			if !ok {
				r.priceCh = nil
				continue
			}
			r.ch.SetOraclePrice(upd.OracleKey, upd.ToPriceData())
		}
	}
}

// Do runs fn on the core goroutine and waits for it to complete. fn receives
// the ClearingHouse and must not retain it past the call.
func (r *Runner) Do(ctx context.Context, fn func(*ClearingHouse)) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case r.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
