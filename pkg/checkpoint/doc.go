// Package checkpoint records committed item writes in Redis so that repeated
// runs can skip items whose stored state would not change.
//
// Items are never updated after their first write, so the only part of an
// item that a re-ingestion can change is its tag set. An Entry keeps the
// fingerprint of the tag set that was last committed for a source id. When
// the incoming tag set has the same fingerprint, the write is a no-op and can
// be skipped; any other tag set must be written.
//
// # Basic Usage
//
//	manager := checkpoint.NewManager(redisClient, 30*24*time.Hour)
//
//	id, ok, err := manager.Lookup(ctx, sourceID, tags)
//	if ok {
//		// already committed with this tag set
//	}
//
//	// after a successful commit
//	_ = manager.Record(ctx, sourceID, checkpoint.NewEntry(id, tags, runID))
//
// # Metrics
//
//   - whatsnews_checkpoint_hits_total - lookups that allowed a skip
//   - whatsnews_checkpoint_misses_total - lookups that required a write
//   - whatsnews_checkpoint_errors_total{operation} - Redis failures
//
// Checkpoint failures never fail a write. Callers log them and carry on.
package checkpoint
