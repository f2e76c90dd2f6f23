package daemon

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
	"github.com/mschirtzinger/fsmonitor/internal/ipc"
	"github.com/mschirtzinger/fsmonitor/internal/repo"
)

// setupRepo creates a worktree with a ".git" metadata directory.
// Socket paths must stay under the sun_path limit, so the fixture
// avoids t.TempDir's long names.
func setupRepo(t *testing.T) *repo.Info {
	t.Helper()

	worktree, err := os.MkdirTemp("", "fsm")
	if err != nil {
		t.Fatalf("Failed to create worktree: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(worktree) })

	if err := os.MkdirAll(filepath.Join(worktree, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create .git dir: %v", err)
	}

	info, err := repo.Resolve(worktree)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	return info
}

func testConfig() *Config {
	return &Config{
		IPCThreads:    2,
		CookieTimeout: 5 * time.Second,
		Logger:        log.New(io.Discard, "", 0),
	}
}

// startDaemon boots a daemon, waits until its endpoint is listening,
// and arranges shutdown at test cleanup.
func startDaemon(t *testing.T, info *repo.Info) (*Daemon, string) {
	t.Helper()

	d, err := New(info, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	socket := d.SocketPath()
	deadline := time.Now().Add(10 * time.Second)
	for ipc.GetState(socket) != ipc.StateListening {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		ipc.SendCommand(socket, "quit")
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("daemon exited with error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not shut down")
		}
	})

	return d, socket
}

// query sends a token query and splits the response into the new
// token and the path list.
func query(t *testing.T, socket, token string) (fsmonitor.Token, []string) {
	t.Helper()

	response, err := ipc.SendCommand(socket, token)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	lines := strings.Split(string(response), "\n")
	parsed, err := fsmonitor.ParseToken(lines[0])
	if err != nil {
		t.Fatalf("response token %q does not parse: %v", lines[0], err)
	}
	return parsed, lines[1:]
}

// writeFile creates or overwrites a file in the worktree.
func writeFile(t *testing.T, info *repo.Info, rel, content string) {
	t.Helper()

	path := filepath.Join(info.WorktreeRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create parent dirs for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}

func TestStaleTokenGetsTrivialResponse(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	token, paths := query(t, socket, "builtin:old:0")

	if token.ID == "old" {
		t.Error("response token kept the stale id")
	}
	if len(paths) != 0 {
		t.Errorf("trivial response carries paths: %v", paths)
	}
}

func TestChangeDetection(t *testing.T) {
	info := setupRepo(t)
	writeFile(t, info, "c", "to be deleted")
	writeFile(t, info, "b", "original")

	_, socket := startDaemon(t, info)

	// Obtain the initial token via a (necessarily stale) query.
	initial, _ := query(t, socket, "builtin:old:0")

	writeFile(t, info, "a", "created")
	writeFile(t, info, "b", "modified")
	if err := os.Remove(filepath.Join(info.WorktreeRoot, "c")); err != nil {
		t.Fatalf("Failed to remove c: %v", err)
	}

	next, paths := query(t, socket, initial.String())

	if next.ID != initial.ID {
		t.Fatalf("token id changed without a resync: %s vs %s", next.ID, initial.ID)
	}
	for _, want := range []string{"a", "b", "c"} {
		found := false
		for _, p := range paths {
			if p == want {
				found = true
			}
		}
		if !found {
			t.Errorf("path %q missing from response %v", want, paths)
		}
	}

	// Idempotent re-query: no filesystem activity in between.
	again, paths := query(t, socket, next.String())
	if len(paths) != 0 {
		t.Errorf("re-query returned paths: %v", paths)
	}
	if again.ID != next.ID {
		t.Errorf("re-query changed token id")
	}
	if again.Sequence < next.Sequence {
		t.Errorf("re-query sequence went backwards: %d < %d", again.Sequence, next.Sequence)
	}
}

func TestNestedDirectoryChanges(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	initial, _ := query(t, socket, "builtin:old:0")

	// A directory created after boot must be picked up by the
	// dynamically extended watch.
	writeFile(t, info, "sub/deep/file.txt", "x")
	// Give the new watch a moment before writing again under it.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, info, "sub/deep/later.txt", "y")

	_, paths := query(t, socket, initial.String())

	found := false
	for _, p := range paths {
		if p == "sub/deep/later.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("nested change missing from response %v", paths)
	}
}

func TestMetadataChurnIsNotReported(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	initial, _ := query(t, socket, "builtin:old:0")

	writeFile(t, info, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, info, "tracked.txt", "x")

	_, paths := query(t, socket, initial.String())

	for _, p := range paths {
		if strings.HasPrefix(p, ".git") {
			t.Errorf("metadata path %q reported as a change", p)
		}
		if strings.Contains(p, fsmonitor.CookiePrefix) {
			t.Errorf("cookie path %q reported as a change", p)
		}
	}
}

func TestFlushForcesResync(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	initial, _ := query(t, socket, "builtin:old:0")

	if _, err := ipc.SendCommand(socket, "flush"); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	next, paths := query(t, socket, initial.String())
	if next.ID == initial.ID {
		t.Error("flush did not mint a new token id")
	}
	if len(paths) != 0 {
		t.Errorf("post-flush trivial response carries paths: %v", paths)
	}

	// The next query with the fresh token is normal again.
	after, _ := query(t, socket, next.String())
	if after.ID != next.ID {
		t.Error("second query after flush was trivial too")
	}
}

func TestStatusCommand(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	response, err := ipc.SendCommand(socket, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(string(response), info.WorktreeRoot) {
		t.Errorf("status response %q does not name the worktree", response)
	}
}

func TestUnknownCommand(t *testing.T) {
	info := setupRepo(t)
	_, socket := startDaemon(t, info)

	response, err := ipc.SendCommand(socket, "frobnicate")
	if err != nil {
		t.Fatalf("SendCommand() failed: %v", err)
	}
	if !strings.HasPrefix(string(response), "error: ") {
		t.Errorf("unknown command response = %q, want error text", response)
	}
}

func TestQuitStopsDaemon(t *testing.T) {
	info := setupRepo(t)
	d, err := New(info, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	socket := d.SocketPath()
	deadline := time.Now().Add(10 * time.Second)
	for ipc.GetState(socket) != ipc.StateListening {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := ipc.SendCommand(socket, "quit"); err != nil {
		t.Fatalf("quit failed: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after quit")
	}

	if got := ipc.GetState(socket); got == ipc.StateListening {
		t.Error("endpoint still listening after quit")
	}
}

func TestRefusesSecondInstance(t *testing.T) {
	info := setupRepo(t)
	startDaemon(t, info)

	second, err := New(info, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := second.Run(); err == nil {
		t.Error("second daemon instance ran on a busy endpoint")
	}
}
