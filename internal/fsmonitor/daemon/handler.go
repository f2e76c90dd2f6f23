package daemon

import (
	"bytes"
	"fmt"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
)

// handleClient dispatches one IPC request. The command set:
//
//	quit          shut the daemon down; empty response
//	flush         force a token resync; empty response
//	status        one line describing what is being watched
//	<token>       query: changed paths since the token
//
// Anything else gets a textual error response and changes no state.
func (d *Daemon) handleClient(command string) ([]byte, error) {
	switch command {
	case "quit":
		if d.server != nil {
			d.server.StopAsync()
		}
		return nil, nil

	case "flush":
		d.forceResync("client flush")
		return nil, nil

	case "status":
		d.mu.Lock()
		token := d.current.Token()
		batches := d.current.BatchCount()
		d.mu.Unlock()
		return []byte(fmt.Sprintf("watching %s (token %s, %d batches)\n",
			d.repo.WorktreeRoot, token, batches)), nil

	default:
		token, err := fsmonitor.ParseToken(command)
		if err != nil {
			return nil, fmt.Errorf("unrecognized command: %q", command)
		}
		return d.handleQuery(token), nil
	}
}

// handleQuery answers a token query.
//
// A token whose id does not match the current token id is stale: the
// daemon has no event history for it, so the response carries the
// current token and no paths, which the client reads as "assume
// everything changed" because the id differs from its own.
//
// A failed filesystem sync means the chain cannot be trusted to be
// complete up to now (a gap in event history), so it forces a resync
// before responding; the fresh id turns the response trivial too.
//
// A current-id token gets the union of paths from every batch the
// client hasn't seen. Either way the head batch is frozen, making the
// response token a stable boundary for the client's next query.
func (d *Daemon) handleQuery(token fsmonitor.Token) []byte {
	// Cheap staleness check before paying for a filesystem sync.
	d.mu.Lock()
	stale := token.ID != d.current.ID()
	d.mu.Unlock()

	if !stale && !d.syncWithFilesystem() {
		d.forceResync("filesystem sync failed")
	}

	d.mu.Lock()
	td := d.current
	trivial := token.ID != td.ID()
	td.FreezeHead()
	head := td.Head()
	response := td.Token()
	td.AddRef()
	d.mu.Unlock()

	// Serialize outside the lock: the frozen chain is immutable, and
	// a concurrent resync must not wait on a slow client.
	var buf bytes.Buffer
	buf.WriteString(response.String())
	if !trivial {
		for _, p := range head.PathsSince(token.Sequence) {
			buf.WriteByte('\n')
			buf.WriteString(p)
		}
	}

	d.mu.Lock()
	td.Release()
	d.mu.Unlock()

	return buf.Bytes()
}
