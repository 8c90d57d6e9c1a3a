package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFile is created in the checkpoint directory while a run owns it
const LockFile = ".kmin.lock"

// ErrLocked is returned when another live run holds the checkpoint directory
var ErrLocked = errors.New("checkpoint directory is locked")

// RunLock is the lock file format
type RunLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// AcquireLock claims the checkpoint directory for this process. A lock left by
// a process that no longer exists is taken over.
// Returns the lock file path for ReleaseLock.
func (s *Store) AcquireLock(version string) (string, error) {
	lockPath := filepath.Join(s.dir, LockFile)

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := RunLock{
		Holder:    "kmin",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockPath)
				return "", fmt.Errorf("failed to write lock: %v", errors.Join(werr, cerr))
			}
			return lockPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create lock: %w", err)
		}

		existing, rerr := os.ReadFile(lockPath)
		if rerr == nil {
			var held RunLock
			if json.Unmarshal(existing, &held) == nil && isProcessAlive(held.PID, held.Hostname) {
				return "", fmt.Errorf("%w: another run is active (PID %d on %s, started %s)",
					ErrLocked, held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
			}
		}
		// Stale or unreadable lock
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return "", fmt.Errorf("%w: lost race for %s", ErrLocked, lockPath)
}

// ReleaseLock removes the lock file. Should be called on exit (use defer).
func ReleaseLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given host.
// Remote hosts are assumed alive since they cannot be checked.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: exists but owned by someone else
	return errors.Is(err, syscall.EPERM)
}
