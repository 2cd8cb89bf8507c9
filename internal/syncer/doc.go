// Package syncer reconciles the local attendance mirror with the
// remote service.
//
// The engine serializes every sync attempt behind a single in-process
// flag: of any concurrent triggers (startup, connectivity regained,
// interval, manual) only the first is honored and the rest are
// dropped, never queued. A sync attempt runs pull (reference data,
// staleness-gated) then push (dirty attendance rows) to completion
// and always releases the flag, so the engine cannot get stuck in the
// syncing state.
//
// Row-level push failures never abort the batch; the row stays dirty
// and the error is accumulated for the caller. Attempt-level failures
// (no connectivity, local store failure) abort before any remote
// write is made.
package syncer
