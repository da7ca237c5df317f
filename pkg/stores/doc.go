// Package stores persists stack and resource identity for stacker.
//
// A stack record names a stack and the template it was built from. A resource
// record ties a logical resource to the physical id of the cloud object backing
// it, written as soon as the object exists so a later process can still find
// it. Events form an append-only log of lifecycle transitions.
//
// SQLiteStore keeps everything in a SQLite database (WAL mode, embedded
// golang-migrate migrations); MemoryStore is the in-process twin used by tests
// and by runs that need no history.
package stores
