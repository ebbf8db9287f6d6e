// Package checkpoint provides durable crawler.CheckpointStore implementations.
//
// FileStore keeps the discovery index in rosters.json and one append-only
// completion log per team. SQLiteStore keeps both in a single SQLite file.
package checkpoint
