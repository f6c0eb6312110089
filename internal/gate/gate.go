// Package gate implements the causal read gate: block a read until the
// key's locally-known dependencies catch up to what the client has
// already seen, by polling rather than subscribing.
//
// The gate has no intrinsic deadline. A caller's context (normally the
// inbound HTTP request's own deadline) is what eventually turns an
// unsatisfiable wait into a timeout response. Grounded on
// wait_until_caught_up in the source this protocol is modeled on.
package gate

import (
	"context"
	"time"
)

// DefaultInterval is the polling period between admissibility checks.
const DefaultInterval = 1500 * time.Millisecond

// Check reports whether the awaited condition currently holds. It must
// do its own locking; the gate holds no lock of its own across Check
// calls, so the store stays responsive to writes and gossip merges
// while a read is parked here.
type Check func() (ok bool, err error)

// Await polls check every interval (DefaultInterval if interval <= 0)
// until it reports true, returns an error, or ctx is done. An error from
// check is returned immediately — Await never retries past a genuine
// failure, only past "not yet caught up".
func Await(ctx context.Context, interval time.Duration, check Check) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
