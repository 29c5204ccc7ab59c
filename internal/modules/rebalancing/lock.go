package rebalancing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when another process holds a fresh run lock
var ErrLockHeld = errors.New("run lock held by another process")

// RunLock is a file-based lock shared by every process using the same data directory
type RunLock struct {
	lockPath string
	log      zerolog.Logger
}

// LockInfo contains lock file information
type LockInfo struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
}

// NewRunLock creates a new run lock at lockPath
func NewRunLock(lockPath string, log zerolog.Logger) *RunLock {
	return &RunLock{
		lockPath: lockPath,
		log:      log.With().Str("component", "run_lock").Logger(),
	}
}

// Acquire takes the lock for runID. A lock older than staleAfter is broken.
func (l *RunLock) Acquire(runID string, staleAfter time.Duration) error {
	if info, err := l.Check(); err != nil {
		return err
	} else if info != nil {
		age := time.Since(info.Timestamp)
		if age < staleAfter {
			return fmt.Errorf("%w (pid %d, age %v)", ErrLockHeld, info.PID, age.Round(time.Second))
		}

		l.log.Warn().
			Int("pid", info.PID).
			Str("run_id", info.RunID).
			Dur("age", age).
			Msg("Removing stale run lock")
		if err := l.breakStale(info, runID); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	data, err := json.MarshalIndent(LockInfo{
		PID:       os.Getpid(),
		Timestamp: time.Now(),
		RunID:     runID,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	// O_EXCL makes creation atomic between processes racing for the same lock
	f, err := os.OpenFile(l.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(l.lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.lockPath)
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	l.log.Debug().
		Str("lock_path", l.lockPath).
		Str("run_id", runID).
		Msg("Run lock acquired")

	return nil
}

// breakStale moves the lock file aside and removes it only if it is still the stale lock that was read.
// A lock created by another process in the meantime is put back and reported as held.
func (l *RunLock) breakStale(stale *LockInfo, runID string) error {
	moved := l.lockPath + ".stale." + runID
	if err := os.Rename(l.lockPath, moved); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to move stale lock: %w", err)
	}
	defer func() { _ = os.Remove(moved) }()

	current, err := readLockInfo(moved)
	if err != nil {
		return fmt.Errorf("failed to read moved lock: %w", err)
	}
	if current.sameHolder(stale) {
		return nil
	}

	// Link fails instead of clobbering a lock created after the rename
	if err := os.Link(moved, l.lockPath); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to restore lock: %w", err)
	}
	return fmt.Errorf("%w (pid %d)", ErrLockHeld, current.PID)
}

func (i *LockInfo) sameHolder(other *LockInfo) bool {
	return i.PID == other.PID && i.RunID == other.RunID && i.Timestamp.Equal(other.Timestamp)
}

// Release removes the lock file; releasing an absent lock is not an error
func (l *RunLock) Release() error {
	if err := os.Remove(l.lockPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.log.Debug().
		Str("lock_path", l.lockPath).
		Msg("Run lock released")

	return nil
}

// Check returns the current lock holder, or nil when unlocked.
// An unreadable lock file is reported as a zero-time holder so it counts as stale.
func (l *RunLock) Check() (*LockInfo, error) {
	info, err := readLockInfo(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	if info.Timestamp.IsZero() {
		l.log.Warn().Msg("Corrupt run lock file")
	}
	return info, nil
}

// readLockInfo parses a lock file. Undecodable content yields a zero LockInfo.
func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return &LockInfo{}, nil
	}
	return &info, nil
}
