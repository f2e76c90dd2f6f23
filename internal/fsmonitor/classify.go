package fsmonitor

import (
	"os"
	"strings"
)

// CookiePrefix is the filename prefix of the sync-cookie files the
// daemon creates inside the repository metadata directory.
const CookiePrefix = ".fsmonitor-daemon-"

// gitDirName is the metadata directory name inside a worktree.
const gitDirName = ".git"

// PathKind tags an absolute filesystem path relative to the watched
// roots. The listener uses the tag to decide whether an event is a
// reportable change, a cookie hit, private metadata churn, or noise
// from outside the watch cone.
type PathKind int

const (
	// KindOutsideCone marks paths under neither watch root.
	KindOutsideCone PathKind = iota

	// KindWorkdirPath marks reportable paths inside the worktree
	// (including the worktree root itself).
	KindWorkdirPath

	// KindDotGit marks the worktree's ".git" entry itself.
	KindDotGit

	// KindInsideDotGit marks paths under "<worktree>/.git/".
	KindInsideDotGit

	// KindInsideDotGitCookie marks cookie files under
	// "<worktree>/.git/".
	KindInsideDotGitCookie

	// KindGitDir marks an external metadata directory itself.
	KindGitDir

	// KindInsideGitDir marks paths under an external metadata
	// directory.
	KindInsideGitDir

	// KindInsideGitDirCookie marks cookie files under an external
	// metadata directory.
	KindInsideGitDirCookie
)

// String returns a human-readable representation of the path kind.
func (k PathKind) String() string {
	switch k {
	case KindOutsideCone:
		return "outside-cone"
	case KindWorkdirPath:
		return "workdir-path"
	case KindDotGit:
		return "dot-git"
	case KindInsideDotGit:
		return "inside-dot-git"
	case KindInsideDotGitCookie:
		return "inside-dot-git-cookie"
	case KindGitDir:
		return "gitdir"
	case KindInsideGitDir:
		return "inside-gitdir"
	case KindInsideGitDirCookie:
		return "inside-gitdir-cookie"
	default:
		return "unknown"
	}
}

// Classifier maps absolute paths to path kinds for one watched
// repository. WorktreeRoot is always set; GitDirRoot is set only when
// the metadata directory is not "<worktree>/.git" and the daemon
// therefore watches two roots.
//
// Comparisons are byte-wise, matching the case sensitivity of the
// filesystems this backend watches.
type Classifier struct {
	WorktreeRoot string
	GitDirRoot   string
}

// Classify returns the kind of an absolute path.
//
// The worktree root is tried first. Only if the path falls outside the
// worktree cone and a second watch root exists is the path classified
// against the metadata directory.
func (c *Classifier) Classify(path string) PathKind {
	kind := c.classifyWorkdirAbsolute(path)
	if c.GitDirRoot == "" || kind != KindOutsideCone {
		return kind
	}

	rel, ok := trimRoot(path, c.GitDirRoot)
	if !ok {
		return KindOutsideCone
	}
	if rel == "" {
		return KindGitDir
	}
	if strings.HasPrefix(rel, CookiePrefix) {
		return KindInsideGitDirCookie
	}
	return KindInsideGitDir
}

// WorktreeRelative converts an absolute workdir path into the
// worktree-relative forward-slash form used on the wire. The second
// return is false for the worktree root itself and for paths outside
// the worktree.
func (c *Classifier) WorktreeRelative(path string) (string, bool) {
	rel, ok := trimRoot(path, c.WorktreeRoot)
	if !ok || rel == "" {
		return "", false
	}
	if os.PathSeparator != '/' {
		rel = strings.ReplaceAll(rel, string(os.PathSeparator), "/")
	}
	return rel, true
}

func (c *Classifier) classifyWorkdirAbsolute(path string) PathKind {
	rel, ok := trimRoot(path, c.WorktreeRoot)
	if !ok {
		return KindOutsideCone
	}
	if rel == "" {
		return KindWorkdirPath
	}
	return classifyWorkdirRelative(rel)
}

// classifyWorkdirRelative classifies a path already known to be
// relative to the worktree root.
func classifyWorkdirRelative(rel string) PathKind {
	if !strings.HasPrefix(rel, gitDirName) {
		return KindWorkdirPath
	}

	rest := rel[len(gitDirName):]
	if rest == "" {
		return KindDotGit
	}
	if rest[0] != os.PathSeparator {
		return KindWorkdirPath // e.g. ".gitignore"
	}

	rest = rest[1:]
	if strings.HasPrefix(rest, CookiePrefix) {
		return KindInsideDotGitCookie
	}
	return KindInsideDotGit
}

// trimRoot strips the root prefix from path. It returns ok=false when
// path is not under root, and rel="" when path is root exactly. A
// prefix match that is not on a path-separator boundary (such as
// "/worktree-other" against root "/worktree") does not count.
func trimRoot(path, root string) (rel string, ok bool) {
	if !strings.HasPrefix(path, root) {
		return "", false
	}

	rel = path[len(root):]
	if rel == "" {
		return "", true
	}
	if rel[0] != os.PathSeparator {
		return "", false
	}
	return rel[1:], true
}
