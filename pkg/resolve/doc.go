// Package resolve implements batched, rate-limit aware resolution of shipment
// identifiers.
//
// A Scheduler takes the submitted identifiers in order, dispatches them in
// batches of Config.BatchSize concurrently through a Lookuper and waits for the
// whole batch before merging. Lookups classified as rate limited go back to the
// tail of the queue; every other outcome is final. A batch that saw any rate
// limiting costs one attempt and is followed by a backoff delay. Once
// Config.MaxAttempts throttled passes have happened, whatever is still queued
// is reported as ReasonRetriesExhausted.
//
// Example usage:
//
//	lookup := resolve.LookupFunc(func(ctx context.Context, id string) resolve.Outcome {
//		return upsClient.Lookup(ctx, id)
//	})
//	results, err := resolve.Resolve(ctx, []string{"1Z999AA10123456784", "PO-4411"}, lookup, resolve.DefaultConfig())
//
// Results are keyed by submission position, so duplicate identifiers are
// looked up and reported independently. Nothing is cached or persisted
// between calls.
package resolve
