// Package repo locates the repository a daemon instance will watch:
// the worktree root and the metadata directory, resolved to absolute
// paths before any watch is established.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Common errors returned when resolving a repository.
var (
	// ErrNotFound is returned when no repository encloses the
	// starting directory.
	ErrNotFound = errors.New("not inside a git repository")

	// ErrBareRepo is returned for bare repositories, which have no
	// worktree to watch.
	ErrBareRepo = errors.New("bare repository is not supported")
)

// Info describes a resolved repository.
type Info struct {
	// WorktreeRoot is the absolute path of the working tree whose
	// contents are watched for change reporting.
	WorktreeRoot string

	// GitDir is the absolute path of the repository metadata
	// directory. Usually "<WorktreeRoot>/.git"; for linked worktrees
	// it lives elsewhere.
	GitDir string

	// WatchRoots is 1 when the metadata directory sits inside the
	// worktree cone, 2 when it must be watched separately.
	WatchRoots int
}

// Resolve walks up from dir looking for the enclosing repository and
// resolves its worktree root and metadata directory.
//
// The walk stops at the first directory that has a ".git" entry or
// itself looks like repository metadata (HEAD plus objects/ and
// refs/). The latter is treated as a bare repository and rejected
// with ErrBareRepo; this includes a worktree's own ".git" directory
// when the walk starts inside it.
func Resolve(dir string) (*Info, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	current := abs
	for {
		gitPath := filepath.Join(current, ".git")
		if fi, err := os.Stat(gitPath); err == nil {
			return resolveAt(current, gitPath, fi)
		}

		if isBareLayout(current) {
			return nil, fmt.Errorf("%w: %s", ErrBareRepo, current)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
		}
		current = parent
	}
}

// resolveAt builds the Info for a worktree root whose ".git" entry
// has been located. A ".git" directory is the common in-cone case; a
// ".git" file points at an external metadata directory and forces a
// second watch root.
func resolveAt(worktree, gitPath string, fi os.FileInfo) (*Info, error) {
	info := &Info{WorktreeRoot: worktree}

	if fi.IsDir() {
		info.GitDir = gitPath
		info.WatchRoots = 1
		return info, nil
	}

	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("unexpected .git entry at %s", gitPath)
	}

	gitDir, err := readGitFile(worktree, gitPath)
	if err != nil {
		return nil, err
	}
	info.GitDir = gitDir
	info.WatchRoots = 2
	return info, nil
}

// readGitFile parses a ".git" file of the form "gitdir: <path>" and
// returns the referenced metadata directory as an absolute path.
func readGitFile(worktree, gitFile string) (string, error) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", gitFile, err)
	}

	line := strings.TrimSpace(string(content))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("malformed .git file at %s", gitFile)
	}

	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktree, gitDir)
	}
	return filepath.Clean(gitDir), nil
}

// isBareLayout reports whether dir has the layout of a bare
// repository: a HEAD file alongside objects/ and refs/ directories.
// It does not look for a ".git" entry; Resolve calls it only after
// finding none.
func isBareLayout(dir string) bool {
	if fi, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil || fi.IsDir() {
		return false
	}
	for _, sub := range []string{"objects", "refs"} {
		fi, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}
