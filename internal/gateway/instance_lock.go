package gateway

import (
	"crypto/sha1" //nolint:gosec // file naming only
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultStaleTimeout applies only to lock files whose owner is unknown.
	DefaultStaleTimeout = 30 * time.Second
)

// LockError is returned when the instance lock cannot be acquired.
type LockError struct {
	Message string
	Cause   error
}

func (e *LockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// InstanceLock is held by the one process serving a channel store. The
// connection registry lives in process memory, so a second process on the
// same store could admit a second agent for a channel.
type InstanceLock struct {
	Path string
	Key  string
	file *os.File

	released bool
}

// Release removes the lock file. It is safe to call more than once and on a
// nil lock.
func (l *InstanceLock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if l.file != nil {
		_ = l.file.Close() //nolint:errcheck
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LockOptions configures AcquireInstanceLock.
type LockOptions struct {
	// Dir holds the lock file.
	Dir string
	// Key identifies the channel store, e.g. the database driver and URL.
	Key          string
	Timeout      time.Duration
	PollInterval time.Duration
	StaleTimeout time.Duration
	// Disabled skips locking and returns a nil lock.
	Disabled bool
}

type lockPayload struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key"`
}

// AcquireInstanceLock creates the lock file for opts.Key, waiting up to
// opts.Timeout for a live owner to release it. Lock files left by dead
// processes are removed.
func AcquireInstanceLock(opts LockOptions) (*InstanceLock, error) {
	if opts.Disabled || os.Getenv("CHANBRIDGE_ALLOW_MULTI") == "1" {
		return nil, nil
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}
	poll := opts.PollInterval
	if poll == 0 {
		poll = DefaultPollInterval
	}
	stale := opts.StaleTimeout
	if stale == 0 {
		stale = DefaultStaleTimeout
	}

	path := lockPath(opts.Dir, opts.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &LockError{Message: "create lock directory " + filepath.Dir(path), Cause: err}
	}

	deadline := time.Now().Add(timeout)
	var owner *lockPayload
	for time.Now().Before(deadline) {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			data, err := json.Marshal(lockPayload{
				PID:       os.Getpid(),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Key:       opts.Key,
			})
			if err == nil {
				_, err = file.Write(data)
			}
			if err != nil {
				_ = file.Close()    //nolint:errcheck
				_ = os.Remove(path) //nolint:errcheck
				return nil, &LockError{Message: "write lock file", Cause: err}
			}
			return &InstanceLock{Path: path, Key: opts.Key, file: file}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, &LockError{Message: "acquire instance lock at " + path, Cause: err}
		}

		owner = readLockPayload(path)
		if owner != nil && !processAlive(owner.PID) {
			_ = os.Remove(path) //nolint:errcheck
			continue
		}
		if owner == nil && lockFileStale(path, stale) {
			_ = os.Remove(path) //nolint:errcheck
			continue
		}
		time.Sleep(poll)
	}

	detail := ""
	if owner != nil {
		detail = fmt.Sprintf(" (pid %d)", owner.PID)
	}
	return nil, &LockError{
		Message: fmt.Sprintf("another chanbridge instance is serving this channel store%s; gave up after %v", detail, timeout),
	}
}

// lockPath names the lock file after a short hash of key.
func lockPath(dir, key string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	sum := sha1.Sum([]byte(key)) //nolint:gosec
	return filepath.Join(dir, "chanbridge."+hex.EncodeToString(sum[:])[:8]+".lock")
}

func readLockPayload(path string) *lockPayload {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.PID <= 0 {
		return nil
	}
	return &payload
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func lockFileStale(path string, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > staleAfter
}
