package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor"
	"github.com/mschirtzinger/fsmonitor/internal/fsmonitor/daemon"
	"github.com/mschirtzinger/fsmonitor/internal/ipc"
	"github.com/mschirtzinger/fsmonitor/internal/repo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon is watching this worktree",
	Run: func(cmd *cobra.Command, args []string) {
		info, _, err := resolveSetup()
		if err != nil {
			fatal(err)
		}

		if ipc.GetState(ipc.SocketPath(info.GitDir)) == ipc.StateListening {
			fmt.Printf("fsmonitor-daemon is watching '%s'\n", info.WorktreeRoot)
			return
		}
		fmt.Printf("fsmonitor-daemon is not watching '%s'\n", info.WorktreeRoot)
		os.Exit(1)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon watching this worktree",
	Run: func(cmd *cobra.Command, args []string) {
		info, _, err := resolveSetup()
		if err != nil {
			fatal(err)
		}
		if err := sendStop(info); err != nil {
			fatal(err)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		info, config, err := resolveSetup()
		if err != nil {
			fatal(err)
		}

		if ipc.GetState(ipc.SocketPath(info.GitDir)) == ipc.StateListening {
			fatal(fmt.Errorf("fsmonitor-daemon is already running '%s'", info.WorktreeRoot))
		}

		fmt.Printf("running fsmonitor-daemon in '%s'\n", info.WorktreeRoot)

		d, err := daemon.New(info, &daemon.Config{
			IPCThreads: config.IPCThreads,
			Logger:     newDaemonLogger(logFileFlag),
		})
		if err != nil {
			fatal(err)
		}
		if err := d.Run(); err != nil {
			fatal(err)
		}
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Run: func(cmd *cobra.Command, args []string) {
		info, config, err := resolveSetup()
		if err != nil {
			fatal(err)
		}

		if ipc.GetState(ipc.SocketPath(info.GitDir)) == ipc.StateListening {
			fatal(fmt.Errorf("fsmonitor-daemon is already running '%s'", info.WorktreeRoot))
		}

		fmt.Printf("starting fsmonitor-daemon in '%s'\n", info.WorktreeRoot)

		pid, err := spawnBackground(info, config)
		if err != nil {
			fatal(err)
		}
		if err := waitForStartup(info, config, pid); err != nil {
			fatal(err)
		}
	},
}

// sendStop asks the daemon to quit and polls the endpoint until it
// goes quiet. The quit command returns no response data.
func sendStop(info *repo.Info) error {
	socket := ipc.SocketPath(info.GitDir)

	if _, err := ipc.SendCommand(socket, "quit"); err != nil {
		return fmt.Errorf("could not reach fsmonitor-daemon for '%s': %w",
			info.WorktreeRoot, err)
	}

	for i := 0; i < 200; i++ {
		if ipc.GetState(socket) != ipc.StateListening {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("fsmonitor-daemon did not shut down")
}

// spawnBackground launches "fsmonitor-daemon run" fully detached: a
// new session, no controlling terminal, stdio on the null device, and
// activity logged to a rotated file in the metadata directory.
func spawnBackground(info *repo.Info, config *fsmonitor.Config) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("cannot resolve executable path: %w", err)
	}

	logPath := logFileFlag
	if logPath == "" {
		logPath = filepath.Join(info.GitDir, "fsmonitor-daemon.log")
	}

	cmd := exec.Command(exe, "run",
		fmt.Sprintf("--ipc-threads=%d", config.IPCThreads),
		"--log-file="+logPath)
	cmd.Dir = info.WorktreeRoot
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("could not spawn fsmonitor-daemon in the background: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

// waitForStartup polls until the background daemon's endpoint is
// listening, the child exits early, or the start timeout elapses.
// If the child died but some daemon answers the socket anyway (a
// concurrent start lost the race), that still counts as success.
func waitForStartup(info *repo.Info, config *fsmonitor.Config, pid int) error {
	socket := ipc.SocketPath(info.GitDir)
	deadline := time.Now().Add(config.StartTimeout)

	for {
		if ipc.GetState(socket) == ipc.StateListening {
			return nil
		}
		if !processAlive(pid) {
			if ipc.GetState(socket) == ipc.StateListening {
				return nil
			}
			return fmt.Errorf("fsmonitor-daemon failed to start")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fsmonitor-daemon not online yet")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
