package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// checkpointStamp is fixed width and UTC so lexical order over checkpoint
// names coincides with chronological order, down to the nanosecond.
const (
	checkpointStamp  = "20060102T150405.000000000"
	checkpointPrefix = "state-"
	checkpointSuffix = ".json"
)

// Recovery manages immutable timestamped checkpoints of RunState.
type Recovery struct {
	dir string
}

// NewRecovery creates a recovery manager over the given checkpoint
// directory (conventionally <stateDir>/checkpoints).
func NewRecovery(dir string) *Recovery {
	return &Recovery{dir: dir}
}

// Checkpoint writes an immutable snapshot of the state and returns its
// path. Checkpoint I/O failures fail the enclosing operation; silent loss
// would corrupt a later resume.
func (r *Recovery) Checkpoint(st *RunState) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing checkpoint: %w", err)
	}

	name := checkpointPrefix + time.Now().UTC().Format(checkpointStamp) + checkpointSuffix
	path := filepath.Join(r.dir, name)
	if err := atomicWrite(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing checkpoint: %w", err)
	}
	return path, nil
}

// ListCheckpoints returns all checkpoint paths, newest first.
func (r *Recovery) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, checkpointPrefix) && strings.HasSuffix(name, checkpointSuffix) {
			names = append(names, name)
		}
	}
	// Names are timestamp-sortable; reverse lexical order is newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(r.dir, name)
	}
	return paths, nil
}

// LatestCheckpoint returns the newest checkpoint path, or "" when none
// exist.
func (r *Recovery) LatestCheckpoint() (string, error) {
	paths, err := r.ListCheckpoints()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nil
	}
	return paths[0], nil
}

// RestoreCheckpoint loads the state snapshot at the given path.
func (r *Recovery) RestoreCheckpoint(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint %s does not exist", path)
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed checkpoint %s: %w", path, err)
	}
	return &st, nil
}

// CleanupCheckpoints deletes all but the keep most recent checkpoints and
// returns the count deleted. A missing directory or one holding <= keep
// entries is a no-op returning 0.
func (r *Recovery) CleanupCheckpoints(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	paths, err := r.ListCheckpoints()
	if err != nil {
		return 0, err
	}
	if len(paths) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, path := range paths[keep:] {
		if err := os.Remove(path); err != nil {
			return deleted, fmt.Errorf("removing checkpoint %s: %w", path, err)
		}
		deleted++
	}
	return deleted, nil
}
