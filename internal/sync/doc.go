// Package sync implements the background engine that keeps the local
// store and the remote store consistent.
//
// A sync pass has two phases. The push phase drains the append-only
// sync queue against the remote adapter in creation order, marking
// each record synced or failed independently so one bad record cannot
// stall the rest. The pull phase then fetches every remote row owned
// by the current user and reconciles it into local storage with
// last-writer-wins timestamp comparison (ties keep the local row).
//
// Passes are single-flight: a boolean in-progress flag makes a
// trigger arriving mid-pass a no-op. Background triggers come from a
// periodic schedule, from offline-to-online network transitions, from
// the user enabling cloud sync, and from sign-in; all of them are
// additionally gated on the enabled flag, network availability, and
// an authenticated user, plus a cooldown so flapping triggers cannot
// thrash the remote.
//
// The engine never surfaces per-record failures to the user. Failed
// records stay in the queue for operator visibility and can be reset
// to pending on demand.
package sync
