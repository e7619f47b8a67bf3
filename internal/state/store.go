package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	stateFileName = "orchestration.json"
	lockFileName  = "orchestration.lock"

	// DefaultLockWait bounds how long a reader or writer waits for the
	// exclusive lock before failing loudly.
	DefaultLockWait = 10 * time.Second
)

// NotFoundError reports that no persisted state exists. It names the
// expected path and the command that creates one.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no orchestration state at %s; run `conductor run` to start an orchestration", e.Path)
}

// LockError reports that the exclusive state lock could not be acquired
// within the bounded wait.
type LockError struct {
	Path   string
	Wait   time.Duration
	Holder int // PID of the holder, 0 if unknown
}

func (e *LockError) Error() string {
	if e.Holder != 0 {
		return fmt.Sprintf("could not acquire state lock %s within %s (held by PID %d)", e.Path, e.Wait, e.Holder)
	}
	return fmt.Sprintf("could not acquire state lock %s within %s", e.Path, e.Wait)
}

// lockInfo is the payload written into the lock file so a stuck lock can
// be diagnosed and stale locks from dead processes reclaimed.
type lockInfo struct {
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
	Acquired string `json:"acquired"`
}

// Store persists RunState under a tool-private directory. Every read and
// write goes through the same atomic-write-plus-lock path.
type Store struct {
	dir      string
	lockWait time.Duration
}

// NewStore creates a store rooted at dir. lockWait <= 0 uses
// DefaultLockWait.
func NewStore(dir string, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Store{dir: dir, lockWait: lockWait}
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, lockFileName)
}

// Exists reports whether persisted state is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Save stamps the state's UpdatedAt and writes it atomically: serialized
// to a temp file in the same directory, then renamed over the state file,
// all while holding the exclusive lock. Readers never observe a partial
// write.
func (s *Store) Save(st *RunState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	unlock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	st.UpdatedAt = Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}
	return atomicWrite(s.Path(), data, 0o644)
}

// Load reads the persisted state under the same lock Save uses. Returns
// *NotFoundError when no state exists.
func (s *Store) Load() (*RunState, error) {
	unlock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: s.Path()}
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed state document %s: %w", s.Path(), err)
	}
	return &st, nil
}

// Delete removes the state document and lock artifacts. Safe to call
// when nothing exists.
func (s *Store) Delete() error {
	for _, path := range []string{s.Path(), s.lockPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// acquireLock creates the lock file with O_EXCL, retrying with
// exponential backoff up to the bounded wait. A lock held by a process
// that no longer exists is reclaimed. Returns the release function.
func (s *Store) acquireLock() (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	lockPath := s.lockPath()
	holder := 0

	try := func() error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			hostname, _ := os.Hostname()
			info := lockInfo{PID: os.Getpid(), Hostname: hostname, Acquired: Now()}
			data, _ := json.Marshal(info)
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil {
				_ = os.Remove(lockPath)
				return backoff.Permanent(fmt.Errorf("writing lock payload: %w", werr))
			}
			if cerr != nil {
				_ = os.Remove(lockPath)
				return backoff.Permanent(fmt.Errorf("closing lock file: %w", cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return backoff.Permanent(fmt.Errorf("creating lock file: %w", err))
		}

		// Lock exists. Reclaim it if the holder is gone.
		if info, rerr := readLockInfo(lockPath); rerr == nil {
			holder = info.PID
			if !processAlive(info.PID) {
				_ = os.Remove(lockPath)
				return fmt.Errorf("removed stale lock from PID %d", info.PID)
			}
		}
		return fmt.Errorf("lock held")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = s.lockWait

	if err := backoff.Retry(try, bo); err != nil {
		return nil, &LockError{Path: lockPath, Wait: s.lockWait, Holder: holder}
	}

	return func() { _ = os.Remove(lockPath) }, nil
}

func readLockInfo(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// processAlive checks whether a PID refers to a live process using
// signal 0.
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

// atomicWrite writes data to a temp file in the target's directory and
// renames it into place, so readers see the old or the new content but
// never a partial write.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
