package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
	"github.com/mschirtzinger/fsmonitor/internal/ipc"
	"github.com/mschirtzinger/fsmonitor/internal/repo"
)

// Config holds the runtime settings for one daemon instance.
type Config struct {
	// IPCThreads is the size of the IPC worker pool (at least 1).
	IPCThreads int

	// CookieTimeout bounds how long a query waits for its sync
	// cookie to come back through the event stream before falling
	// back to a trivial response.
	CookieTimeout time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		IPCThreads:    fsmonitor.DefaultIPCThreads,
		CookieTimeout: 5 * time.Second,
		Logger:        log.New(os.Stderr, "[fsmonitor] ", log.LstdFlags),
	}
}

// Daemon owns the watched repository's token state and coordinates
// the listener and the IPC server.
type Daemon struct {
	config     *Config
	logger     *log.Logger
	repo       *repo.Info
	classifier *fsmonitor.Classifier

	// mu guards current, its batch chain and reference count, and
	// firstErr. Held for appends, head freezing, token replacement,
	// and reference counting; never held across I/O.
	mu       sync.Mutex
	current  *fsmonitor.TokenData
	firstErr error

	cookies   *fsmonitor.CookieRegistry
	cookieSeq atomic.Uint64

	server   *ipc.Server
	listener *listener

	// shutdown aborts in-flight cookie waits once the server has
	// stopped accepting work.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a daemon for a resolved repository. The initial token
// is minted here, before any goroutine exists.
func New(info *repo.Info, config *Config) (*Daemon, error) {
	if info == nil {
		return nil, fmt.Errorf("repository info cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.IPCThreads < 1 {
		return nil, fmt.Errorf("ipc thread count must be at least 1, got %d", config.IPCThreads)
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.CookieTimeout <= 0 {
		config.CookieTimeout = DefaultConfig().CookieTimeout
	}

	classifier := &fsmonitor.Classifier{WorktreeRoot: info.WorktreeRoot}
	if info.WatchRoots > 1 {
		classifier.GitDirRoot = info.GitDir
	}

	return &Daemon{
		config:     config,
		logger:     config.Logger,
		repo:       info,
		classifier: classifier,
		current:    fsmonitor.NewTokenData(),
		cookies:    fsmonitor.NewCookieRegistry(),
		shutdown:   make(chan struct{}),
	}, nil
}

// SocketPath returns the IPC endpoint this daemon serves.
func (d *Daemon) SocketPath() string {
	return ipc.SocketPath(d.repo.GitDir)
}

// Run executes the daemon until a client quit or a fatal error.
//
// The watch resources are created before any goroutine so that a
// watcher setup failure aborts boot cleanly. The IPC server starts
// before the listener so the endpoint is live before the first event
// is posted. Run blocks in the server await; on return it stops and
// joins the listener and releases every resource. The returned error
// is the first fatal error recorded anywhere, or nil.
func (d *Daemon) Run() error {
	l, err := newListener(d)
	if err != nil {
		return fmt.Errorf("could not initialize filesystem listener: %w", err)
	}
	defer l.close()

	server, err := ipc.Listen(d.SocketPath(), d.config.IPCThreads, d.handleClient, d.logger)
	if err != nil {
		return fmt.Errorf("could not start IPC server: %w", err)
	}
	d.server = server
	server.StartAsync()

	d.listener = l
	l.start()

	d.logger.Printf("watching worktree %s", d.repo.WorktreeRoot)
	if d.repo.WatchRoots > 1 {
		d.logger.Printf("watching gitdir %s", d.repo.GitDir)
	}

	err = server.Await()

	d.requestShutdown()
	d.listener.stopAsync()
	d.listener.join()

	if err == nil {
		err = d.firstError()
	}
	return err
}

// requestShutdown aborts pending cookie waits. Safe to call more
// than once.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// recordChange appends a worktree-relative path to the open head
// batch of the current token.
func (d *Daemon) recordChange(rel string) {
	d.mu.Lock()
	d.current.Append(rel)
	d.mu.Unlock()
}

// forceResync replaces the current token data with a fresh token id
// and an empty chain, implicitly invalidating every outstanding
// client token. The old chain is detached; workers still iterating
// it hold their own references and finish undisturbed.
func (d *Daemon) forceResync(reason string) {
	d.mu.Lock()
	old := d.current
	d.current = fsmonitor.NewTokenData()
	id := d.current.ID()
	refs := old.RefCount()
	d.mu.Unlock()

	d.logger.Printf("token resync (%s): new token id %s, %d queries still draining",
		reason, id, refs)
}

// setError records the first fatal error; the daemon's exit code
// reflects it.
func (d *Daemon) setError(err error) {
	d.mu.Lock()
	if d.firstErr == nil {
		d.firstErr = err
	}
	d.mu.Unlock()
	d.logger.Printf("fatal: %v", err)
}

func (d *Daemon) firstError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstErr
}

// syncWithFilesystem creates a cookie file in the metadata directory
// and waits for the listener to see it come back through the kernel
// event stream. A true return means every event that preceded the
// cookie's creation has been delivered. The wait is abandoned on
// daemon shutdown or after the configured timeout.
func (d *Daemon) syncWithFilesystem() bool {
	name := fmt.Sprintf("%s%d", fsmonitor.CookiePrefix, d.cookieSeq.Add(1))
	path := filepath.Join(d.repo.GitDir, name)

	observed := d.cookies.Register(name)
	defer d.cookies.Unregister(name)

	f, err := os.Create(path)
	if err != nil {
		d.logger.Printf("could not create cookie file %s: %v", path, err)
		return false
	}
	f.Close()
	defer os.Remove(path)

	timer := time.NewTimer(d.config.CookieTimeout)
	defer timer.Stop()

	select {
	case <-observed:
		return true
	case <-d.shutdown:
		return false
	case <-timer.C:
		d.logger.Printf("timed out waiting for cookie %s", name)
		return false
	}
}
