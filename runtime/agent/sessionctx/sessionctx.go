// Package sessionctx propagates the active session id and instance path to
// processes sharing this machine, keyed by pid, so a sub-instance tool
// invoked as a subprocess can discover which session it is nested under
// without an explicit argument.
package sessionctx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// Record is the content stamped at $TMPDIR/claude_session_{pid}.
type Record struct {
	SessionID    string `json:"session_id"`
	InstancePath string `json:"instance_path"`
}

func path(pid int) string {
	return filepath.Join(os.TempDir(), "claude_session_"+strconv.Itoa(pid))
}

// Set atomically stamps the session context for pid: write to a temp file
// in the same directory, then rename over the target. Rename is atomic on
// POSIX filesystems, so a concurrent Get never observes a partially written
// file.
func Set(pid int, sessionID, instancePath string) error {
	raw, err := json.Marshal(Record{SessionID: sessionID, InstancePath: instancePath})
	if err != nil {
		return err
	}
	target := path(pid)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Get reads the session context stamped for pid. Returns os.ErrNotExist (via
// the underlying os error) if none has been set.
func Get(pid int) (Record, error) {
	raw, err := os.ReadFile(path(pid))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Clear removes the session context for pid. Clearing an already-clear pid
// is a no-op, not an error.
func Clear(pid int) error {
	err := os.Remove(path(pid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CleanupAll removes every stamped session context file whose owning pid no
// longer exists. It is meant to be run periodically, not per-call, since it
// scans the whole temp directory.
func CleanupAll() error {
	dir := os.TempDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	const prefix = "claude_session_"
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		suffix := name[len(prefix):]
		if len(suffix) > 4 && suffix[len(suffix)-4:] == ".tmp" {
			continue
		}
		pid, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if pidAlive(pid) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}

// pidAlive reports whether a process with the given pid currently exists, by
// sending signal 0 (no-op delivery, error-only probe).
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
