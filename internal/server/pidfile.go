package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PidfilePath is written next to the working directory on startup.
const PidfilePath = "shortlinker.pid"

// WritePidfile records our PID with create-new semantics, refusing to
// start when a live peer holds the file. A stale file from a crashed
// process is reclaimed.
func WritePidfile(path string) error {
	if path == "" {
		path = PidfilePath
	}

	if pid, ok := ReadPidfile(path); ok {
		if processAlive(pid) {
			return fmt.Errorf("another instance is running (pid %d); refusing to start", pid)
		}
		os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("pidfile %s appeared concurrently; refusing to start", path)
		}
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// ReadPidfile parses the recorded PID.
func ReadPidfile(path string) (int, bool) {
	if path == "" {
		path = PidfilePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// RemovePidfile cleans up on exit, but only when the file still belongs
// to this process.
func RemovePidfile(path string) {
	if path == "" {
		path = PidfilePath
	}
	if pid, ok := ReadPidfile(path); ok && pid == os.Getpid() {
		os.Remove(path)
	}
}

// processAlive reports whether pid refers to a running process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
