package fsmonitor

import "sort"

// Batch is one contiguous interval of observed file changes: the
// paths that changed between two successive client queries (or
// between daemon boot and the first query). Paths are stored in
// worktree-relative forward-slash form and deduplicated on insert.
//
// Batches form a singly-linked chain from the newest (head) toward
// the oldest (tail) via the predecessor link. Only the head batch may
// be open; every other batch is frozen and never mutated again.
type Batch struct {
	prev   *Batch
	seq    uint64
	frozen bool
	paths  map[string]struct{}
}

func newBatch(seq uint64) *Batch {
	return &Batch{seq: seq, paths: make(map[string]struct{})}
}

// Sequence returns the sequence number assigned to this batch.
func (b *Batch) Sequence() uint64 { return b.seq }

// Frozen reports whether the batch has been closed by a query.
func (b *Batch) Frozen() bool { return b.frozen }

// Len returns the number of distinct paths in the batch.
func (b *Batch) Len() int { return len(b.paths) }

// Prev returns the next-older batch in the chain, or nil at the tail.
func (b *Batch) Prev() *Batch { return b.prev }

// PathsSince walks the chain from b toward the tail and returns the
// sorted union of paths from every batch whose sequence number is at
// or after seq. The walk stops at the first older batch.
//
// Every batch visited must already be frozen; the caller freezes the
// head before releasing the daemon lock and walking the chain.
func (b *Batch) PathsSince(seq uint64) []string {
	set := make(map[string]struct{})
	for cur := b; cur != nil && cur.seq >= seq; cur = cur.prev {
		for p := range cur.paths {
			set[p] = struct{}{}
		}
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TokenData is the daemon's current token id together with its batch
// chain and the count of in-flight client queries still iterating
// over the chain.
//
// TokenData performs no locking of its own: every method is called
// with the daemon's coordinating mutex held. The exception is reading
// frozen batches through a head pointer obtained under the lock,
// which is safe because frozen batches are immutable.
type TokenData struct {
	id             string
	head           *Batch
	tail           *Batch
	clientRefCount uint64
}

// NewTokenData mints a fresh token id with an empty batch chain.
// It is called at daemon boot and on every resync; the previous
// TokenData is detached, never mutated back into service.
func NewTokenData() *TokenData {
	return &TokenData{id: mintTokenID()}
}

// ID returns the opaque token id.
func (td *TokenData) ID() string { return td.id }

// Head returns the newest batch, or nil if no change has been
// recorded under this token id.
func (td *TokenData) Head() *Batch { return td.head }

// Sequence returns the sequence number the daemon currently publishes
// in response tokens: the position a client will query from next.
// It is zero until the first change is recorded under this id.
func (td *TokenData) Sequence() uint64 {
	if td.head == nil {
		return 0
	}
	return td.head.seq + 1
}

// Token returns the current response token.
func (td *TokenData) Token() Token {
	return Token{ID: td.id, Sequence: td.Sequence()}
}

// Append records a changed path in the open head batch. If the head
// was frozen by a query, a new head is allocated with the next
// sequence number; the first batch of a fresh token id starts at
// sequence zero.
func (td *TokenData) Append(path string) {
	switch {
	case td.head == nil:
		b := newBatch(0)
		td.head = b
		td.tail = b
	case td.head.frozen:
		b := newBatch(td.head.seq + 1)
		b.prev = td.head
		td.head = b
	}

	td.head.paths[path] = struct{}{}
}

// FreezeHead closes the open head batch. Serving a client query
// freezes the head so that the response token is a stable boundary:
// changes arriving afterwards open a new batch with a higher sequence
// number and are reported by the client's next query.
func (td *TokenData) FreezeHead() {
	if td.head != nil {
		td.head.frozen = true
	}
}

// BatchCount returns the number of batches in the chain.
func (td *TokenData) BatchCount() int {
	n := 0
	for b := td.head; b != nil; b = b.prev {
		n++
	}
	return n
}

// AddRef records an in-flight client query iterating over the chain.
// The chain may not be reclaimed while the count is non-zero, even if
// a resync has already replaced this TokenData as current.
func (td *TokenData) AddRef() {
	td.clientRefCount++
}

// Release drops a reference taken with AddRef and returns the
// remaining count.
func (td *TokenData) Release() uint64 {
	if td.clientRefCount > 0 {
		td.clientRefCount--
	}
	return td.clientRefCount
}

// RefCount returns the number of in-flight client queries.
func (td *TokenData) RefCount() uint64 { return td.clientRefCount }
