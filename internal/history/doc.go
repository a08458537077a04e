// Package history persists finished conversion tasks to SQLite.
//
// The queue keeps only a bounded in-memory window of recent tasks, so the
// daemon mirrors every terminal event into this store. Entries survive
// restarts and back the history and stats commands. Writes go through a
// busy-retry wrapper because the daemon and CLI may hold the database open
// at the same time.
package history
