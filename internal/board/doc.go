// Package board holds the authoritative in-memory state of the bulletin
// board: the registry of connected clients and the store of groups with
// their member sets and message histories.
//
// Registry and GroupStore are each a single lock domain. The store reports
// every committed membership change or post to an Observer while its lock is
// still held, so observers see commits in exactly the order they happened.
package board
