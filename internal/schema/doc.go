// Package schema provides the data structures shared by the local
// storage backends, the sync queue, and the remote store adapter.
//
// Entities are flat structs with last-write-wins semantics: every row
// carries created_at/updated_at timestamps, and the sync engine
// resolves local/remote conflicts by comparing them. The structs
// marshal to JSON both for sync-queue snapshots and for the remote
// row API, so the json tags here are part of the wire format.
package schema
