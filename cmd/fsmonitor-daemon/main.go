// Command fsmonitor-daemon watches a git worktree for filesystem
// changes and answers "what changed since token T" queries from the
// version-control client over a local IPC socket, so the client does
// not have to stat every tracked file on every invocation.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
	"github.com/mschirtzinger/fsmonitor/internal/repo"
)

var (
	ipcThreadsFlag   int
	startTimeoutFlag int
	logFileFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "fsmonitor-daemon",
	Short: "Filesystem monitor daemon for git worktrees",
	Long: `fsmonitor-daemon watches a git worktree and serves change queries
over a local IPC socket inside the repository's .git directory.

Clients hand the daemon an opaque token from their previous query and
receive the list of paths that changed since, plus a new token. The
daemon keeps no state across restarts; a restart invalidates all
outstanding tokens and clients fall back to a full rescan once.`,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&ipcThreadsFlag, "ipc-threads", 0,
		"use <n> ipc worker threads")
	rootCmd.PersistentFlags().IntVar(&startTimeoutFlag, "start-timeout", -1,
		"max seconds to wait for background daemon startup")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "",
		"append daemon activity to this file instead of stderr")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

// fatal reports a user-visible failure on stderr and exits non-zero.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// resolveSetup locates the enclosing repository from the working
// directory and resolves its daemon configuration, applying any
// command-line flag overrides.
func resolveSetup() (*repo.Info, *fsmonitor.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	info, err := repo.Resolve(wd)
	if err != nil {
		return nil, nil, err
	}

	config, err := fsmonitor.LoadConfig(info.GitDir)
	if err != nil {
		return nil, nil, err
	}

	if ipcThreadsFlag != 0 {
		if ipcThreadsFlag < 1 {
			return nil, nil, fmt.Errorf("invalid 'ipc-threads' value (%d)", ipcThreadsFlag)
		}
		config.IPCThreads = ipcThreadsFlag
	}
	if startTimeoutFlag < -1 {
		return nil, nil, fmt.Errorf("invalid 'start-timeout' value (%d)", startTimeoutFlag)
	}
	if startTimeoutFlag >= 0 {
		config.StartTimeout = time.Duration(startTimeoutFlag) * time.Second
	}

	return info, config, nil
}

// newDaemonLogger builds the daemon activity logger. In the
// foreground the log goes to stderr; a detached daemon has no
// terminal, so it writes to a size-rotated file instead.
func newDaemonLogger(path string) *log.Logger {
	if path == "" {
		return log.New(os.Stderr, "[fsmonitor] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 2,
	}, "[fsmonitor] ", log.LstdFlags)
}
