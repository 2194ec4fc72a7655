// Package checkpoint persists and restores the full training state as
// one atomic unit: trainable model weights, optimizer and schedule
// state, the dataset sampler cursor, cumulative statistics and a
// snapshot of the configuration that produced them.
package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pranav-putta/bcnav/dataset"
)

// ErrNoCheckpoints reports that a checkpoint directory holds no
// checkpoints to resume from.
var ErrNoCheckpoints = errors.New("checkpoint: no checkpoints found")

// Stats carries the cumulative training counters. They are restored
// verbatim on resume and the step/epoch counters of the training loop
// are rehydrated from them.
type Stats struct {
	Step        int
	Epoch       int
	TotalFrames int
}

// State is a full checkpoint. Model holds only the parameters that
// currently have gradients enabled; frozen parameters are excluded so
// checkpoints stay minimal when only part of a model is fine-tuned.
// Optimizer and Schedule are the opaque serialized states of the
// solver package, restored strictly. Config is the raw JSON snapshot
// of the run configuration.
type State struct {
	Model     map[string][]float64
	Optimizer []byte
	Schedule  []byte
	Sampler   dataset.SamplerState
	Config    json.RawMessage
	Stats     Stats
}

// Manager writes and reads checkpoints in a directory. Checkpoint
// files are named ckpt.N.bin where N = step / frequency, so each
// checkpoint interval maps to one monotonically increasing index.
type Manager struct {
	dir  string
	freq int
}

// NewManager returns a manager rooted at dir, creating it if needed.
func NewManager(dir string, freq int) (*Manager, error) {
	if freq < 1 {
		return nil, fmt.Errorf("newManager: frequency must be >= 1")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newManager: could not create %v: %v", dir, err)
	}
	return &Manager{dir: dir, freq: freq}, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string { return m.dir }

// PathFor returns the checkpoint path for a given training step.
func (m *Manager) PathFor(step int) string {
	return filepath.Join(m.dir, fmt.Sprintf("ckpt.%v.bin", step/m.freq))
}

// Save writes the state for the given step atomically: the checkpoint
// is encoded to a temporary file and renamed into place, so a crash
// mid-write never leaves a truncated checkpoint behind.
func (m *Manager) Save(step int, state *State) (string, error) {
	path := m.PathFor(step)

	tmp, err := os.CreateTemp(m.dir, "ckpt-*.tmp")
	if err != nil {
		return "", fmt.Errorf("save: could not create temp file: %v", err)
	}

	if err := gob.NewEncoder(tmp).Encode(state); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save: could not encode checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save: could not close temp file: %v", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save: could not rename checkpoint: %v", err)
	}
	return path, nil
}

// Load reads and decodes a checkpoint file.
func (m *Manager) Load(path string) (*State, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: could not open %v: %v", path, err)
	}
	defer file.Close()

	var state State
	if err := gob.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("load: could not decode %v: %v", path, err)
	}
	return &state, nil
}

// Versions returns all checkpoint paths in the directory, newest
// (highest index) first.
func (m *Manager) Versions() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(m.dir, "ckpt.*.bin"))
	if err != nil {
		return nil, fmt.Errorf("versions: %v", err)
	}
	if len(files) == 0 {
		return nil, ErrNoCheckpoints
	}

	sort.Slice(files, func(i, j int) bool {
		return indexOf(files[i]) > indexOf(files[j])
	})
	return files, nil
}

// Latest returns the newest checkpoint path.
func (m *Manager) Latest() (string, error) {
	versions, err := m.Versions()
	if err != nil {
		return "", err
	}
	return versions[0], nil
}

// indexOf extracts the integer index from a ckpt.N.bin filename.
// Malformed names sort last.
func indexOf(path string) int {
	parts := strings.Split(filepath.Base(path), ".")
	if len(parts) != 3 {
		return -1
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1
	}
	return n
}
