package fsmonitor

import "testing"

func TestClassifySingleRoot(t *testing.T) {
	c := &Classifier{WorktreeRoot: "/w"}

	tests := []struct {
		name string
		path string
		want PathKind
	}{
		{"worktree root itself", "/w", KindWorkdirPath},
		{"plain file", "/w/a.txt", KindWorkdirPath},
		{"nested file", "/w/sub/dir/b.go", KindWorkdirPath},
		{"metadata root", "/w/.git", KindDotGit},
		{"dot-git named sibling", "/w/.gitignore", KindWorkdirPath},
		{"dot-git prefix file", "/w/.gitfoo", KindWorkdirPath},
		{"inside metadata", "/w/.git/HEAD", KindInsideDotGit},
		{"deep inside metadata", "/w/.git/refs/heads/main", KindInsideDotGit},
		{"cookie file", "/w/.git/.fsmonitor-daemon-X", KindInsideDotGitCookie},
		{"outside the cone", "/other/x", KindOutsideCone},
		{"sibling with root prefix", "/worktree-other/x", KindOutsideCone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyTwoRoots(t *testing.T) {
	c := &Classifier{
		WorktreeRoot: "/w",
		GitDirRoot:   "/repos/main/.git/worktrees/w",
	}

	tests := []struct {
		name string
		path string
		want PathKind
	}{
		{"worktree file", "/w/a.txt", KindWorkdirPath},
		{"gitdir itself", "/repos/main/.git/worktrees/w", KindGitDir},
		{"inside gitdir", "/repos/main/.git/worktrees/w/HEAD", KindInsideGitDir},
		{"gitdir cookie", "/repos/main/.git/worktrees/w/.fsmonitor-daemon-7", KindInsideGitDirCookie},
		{"outside both roots", "/repos/other/file", KindOutsideCone},
		{"gitdir prefix sibling", "/repos/main/.git/worktrees/w2/HEAD", KindOutsideCone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyTwoRootsIgnoredWithoutGitDir(t *testing.T) {
	c := &Classifier{WorktreeRoot: "/w"}

	// Without a second root configured, gitdir-looking paths stay
	// outside the cone.
	if got := c.Classify("/repos/main/.git/worktrees/w/HEAD"); got != KindOutsideCone {
		t.Errorf("Classify() = %v, want %v", got, KindOutsideCone)
	}
}

func TestWorktreeRelative(t *testing.T) {
	c := &Classifier{WorktreeRoot: "/w"}

	tests := []struct {
		name   string
		path   string
		want   string
		wantOK bool
	}{
		{"file at root", "/w/a.txt", "a.txt", true},
		{"nested file", "/w/sub/b.txt", "sub/b.txt", true},
		{"worktree root itself", "/w", "", false},
		{"outside", "/other/x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.WorktreeRelative(tt.path)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("WorktreeRelative(%q) = (%q, %v), want (%q, %v)",
					tt.path, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
