package daemon

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
)

// listener consumes raw kernel events, classifies each path, and
// feeds the daemon: reportable changes are appended to the batch
// chain, cookie sightings wake their waiters, metadata churn is
// dropped, and loss conditions force a token resync.
//
// The listener holds a non-owning handle to the daemon; the daemon
// always outlives it.
type listener struct {
	daemon  *Daemon
	watcher *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// newListener creates the platform watch resources and registers the
// initial watches. inotify-style backends are not recursive, so every
// directory under the worktree gets its own watch; the metadata
// directory gets a single top-level watch for cookie traffic. Any
// failure here aborts daemon boot before a goroutine is created.
func newListener(d *Daemon) (*listener, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	l := &listener{
		daemon:  d,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	// Skip the metadata subtree while walking the worktree; its
	// top-level watch is added explicitly below.
	skip := ""
	if d.repo.WatchRoots == 1 {
		skip = d.repo.GitDir
	}
	if err := l.watchRecursive(d.repo.WorktreeRoot, skip); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(d.repo.GitDir); err != nil {
		watcher.Close()
		return nil, err
	}

	return l, nil
}

// start launches the event loop goroutine.
func (l *listener) start() {
	l.wg.Add(1)
	go l.loop()
}

// stopAsync asks the event loop to exit; it drains nothing further.
func (l *listener) stopAsync() {
	l.stopOnce.Do(func() { close(l.done) })
}

// join blocks until the event loop has exited.
func (l *listener) join() {
	l.wg.Wait()
}

// close releases the platform watch resources. Call after join.
func (l *listener) close() {
	l.watcher.Close()
}

func (l *listener) loop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				l.daemon.forceResync("kernel event queue overflow")
				continue
			}
			l.daemon.logger.Printf("listener error: %v", err)
			l.daemon.forceResync("event stream error")
		}
	}
}

// handleEvent classifies one kernel event and routes it.
func (l *listener) handleEvent(event fsnotify.Event) {
	// Chmod-only notifications carry no content change and are
	// extremely noisy on some platforms.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	d := l.daemon
	switch d.classifier.Classify(event.Name) {
	case fsmonitor.KindWorkdirPath:
		rel, ok := d.classifier.WorktreeRelative(event.Name)
		if !ok {
			return // the worktree root itself
		}
		d.recordChange(rel)
		if event.Has(fsnotify.Create) {
			l.maybeWatchNewDir(event.Name)
		}

	case fsmonitor.KindInsideDotGitCookie, fsmonitor.KindInsideGitDirCookie:
		// Sync barrier, not a reportable change.
		d.cookies.Observe(filepath.Base(event.Name))

	case fsmonitor.KindDotGit, fsmonitor.KindGitDir:
		// The metadata directory itself moved or was replaced; our
		// picture of the repository is no longer trustworthy.
		d.forceResync("metadata directory changed")

	case fsmonitor.KindInsideDotGit, fsmonitor.KindInsideGitDir:
		// Private metadata churn must not surface as a change.

	case fsmonitor.KindOutsideCone:
	}
}

// maybeWatchNewDir extends the watch set when a directory appears
// inside the worktree. Events inside it from before the watch took
// effect are unrecoverable at this layer, which is the same exposure
// every per-directory watch backend has.
func (l *listener) maybeWatchNewDir(path string) {
	fi, err := os.Lstat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	skip := ""
	if l.daemon.repo.WatchRoots == 1 {
		skip = l.daemon.repo.GitDir
	}
	if err := l.watchRecursive(path, skip); err != nil {
		l.daemon.logger.Printf("could not watch new directory %s: %v", path, err)
		l.daemon.forceResync("watch registration failed")
	}
}

// watchRecursive adds a watch for root and every directory below it,
// skipping the subtree rooted at skip. Directories that vanish during
// the walk are ignored; other failures are reported so the caller can
// treat them as event loss.
func (l *listener) watchRecursive(root, skip string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if skip != "" && path == skip {
			return filepath.SkipDir
		}
		if err := l.watcher.Add(path); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return nil
	})
}
