// Package notifier implements the wait-and-retry primitive behind the
// unreachable-backend page.
//
// # Overview
//
// A Retry is a single-shot deferred action bound to one owner lifetime (one
// served page, one probe cycle). It arms exactly one timer, fires exactly
// once after a fixed deadline, and is guaranteed not to fire after its owner
// context is torn down.
//
// There is deliberately no backoff, no jitter, and no retry cap: the policy
// is retry-forever at a fixed interval. Re-arming happens naturally because
// every failed recovery produces a fresh owner (a freshly served page, a
// fresh probe cycle) and therefore a fresh Retry instance.
//
// # Lifecycle
//
// Idle -> Waiting (timer armed) -> Fired | Canceled. Fired and Canceled are
// terminal; a Retry is never reused. Start must be called exactly once.
package notifier
