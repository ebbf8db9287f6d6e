// Package crawler implements the two-phase swimmer crawl: discovering team
// and roster IDs, then fetching every swimmer that is not yet checkpointed.
// The Engine owns the worker pools, the block/cooldown state machine and
// incremental persistence through a CheckpointStore and a Sink.
package crawler
