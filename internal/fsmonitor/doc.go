// Package fsmonitor provides the core data model for the filesystem
// monitor daemon: the token-versioned batch log, the path classifier,
// the cookie registry, and the repository configuration.
//
// # Tokens
//
// Clients and the daemon exchange an opaque token of the form
//
//	builtin:<token_id>:<sequence_nr>
//
// The token_id groups all filesystem events observed while the daemon
// was in sync with the filesystem. It carries no ordering semantics;
// equality is the only observable relation. The sequence_nr is the
// boundary between the batches a client has already seen and the ones
// it hasn't. A new token_id is minted each time the daemon starts,
// whenever it must resynchronize with the filesystem (dropped kernel
// events), and in response to a client flush.
//
// # Batches
//
// Changed paths accumulate in an append-only chain of batches. The
// head batch is open and absorbs new paths; serving a client query
// freezes it, so the next change opens a fresh batch with the next
// sequence number. Sequence numbers are strictly decreasing from head
// to tail. A query collects the union of paths from every batch the
// client hasn't seen and returns it with a new token.
//
// # Cookies
//
// To know that all kernel events prior to some point have been
// delivered, the daemon creates a short-lived cookie file inside the
// repository metadata directory and waits for it to appear in the
// event stream. CookieRegistry tracks the outstanding cookie names;
// the listener reports hits as it classifies events. Cookie files are
// never reported to clients as changes.
package fsmonitor
