// Package config implements the statically typed experiment
// configuration. Every recognized option is enumerated here and
// validated eagerly at load time, so contract violations fail before
// any training work begins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pranav-putta/bcnav/solver"
)

// Config is the root configuration for a training or evaluation run.
type Config struct {
	Exp   Exp
	Train Train
	Eval  Eval
}

// Exp identifies the experiment and where its outputs live.
type Exp struct {
	RootDir string
	Group   string
	JobType string
	Name    string

	// ResumeID selects a previous run to resume from. Empty means a
	// fresh run.
	ResumeID string
}

// Folder returns the directory all artifacts of this experiment are
// written under.
func (e Exp) Folder() string {
	return filepath.Join(e.RootDir, e.Group, e.JobType, e.Name)
}

// CheckpointDir returns the directory checkpoints are written to.
func (e Exp) CheckpointDir() string {
	return filepath.Join(e.Folder(), "ckpts")
}

// EvalDir returns the directory evaluation outputs are written to.
func (e Exp) EvalDir() string {
	return filepath.Join(e.Folder(), "eval")
}

// ArtifactName returns the name checkpoints are published under.
func (e Exp) ArtifactName() string {
	name := fmt.Sprintf("%v-%v-%v", e.Group, e.JobType, e.Name)
	name = strings.ReplaceAll(name, "+", "_")
	name = strings.ReplaceAll(name, "=", "_")
	return name
}

// Train configures the behavior cloning training loop.
type Train struct {
	Steps            int
	BatchSize        int
	MinibatchSize    int
	NumGradAccums    int
	EpisodesPerBatch int
	CkptFreq         int

	// MaxGradNorm <= 0 disables gradient clipping
	MaxGradNorm float64

	// MaxTrajectoryLength is the fixed subsequence horizon T
	MaxTrajectoryLength int

	NumEnvs    int
	Seed       uint64
	DatasetDir string

	// TimeoutSeconds bounds how long a worker blocks on the
	// rendezvous and barrier primitives. 0 means no timeout.
	TimeoutSeconds int

	Solver     solver.Solver
	LRSchedule solver.Schedule
}

// Artifact selects a checkpoint artifact to load. Version "*" selects
// every available version, newest first.
type Artifact struct {
	Name    string
	Version string
}

// Eval configures rollout-based evaluation.
type Eval struct {
	NumEpisodes   int
	NumEnvs       int
	SaveVideos    bool
	DTGThreshold  float64
	Deterministic bool
	Artifact      Artifact
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: could not open config: %v", err)
	}
	defer f.Close()

	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("load: could not decode config: %v", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}
	return &c, nil
}

// Validate checks that the configuration parameters are constrained
// properly. Divisibility violations are fatal here, before any
// training work begins.
func (c *Config) Validate() error {
	t := c.Train

	if t.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be >= 1")
	}
	if t.MinibatchSize < 1 {
		return fmt.Errorf("validate: minibatch size must be >= 1")
	}
	if t.BatchSize%t.MinibatchSize != 0 {
		return fmt.Errorf("validate: batch (%v) must be evenly partitioned "+
			"into minibatches (%v)", t.BatchSize, t.MinibatchSize)
	}

	numMinibatches := t.BatchSize / t.MinibatchSize
	if t.NumGradAccums < 1 {
		return fmt.Errorf("validate: num grad accums must be >= 1")
	}
	if numMinibatches%t.NumGradAccums != 0 {
		return fmt.Errorf("validate: # of grad accums (%v) must divide the "+
			"number of minibatches (%v) equally", t.NumGradAccums,
			numMinibatches)
	}

	if t.MaxTrajectoryLength < 1 {
		return fmt.Errorf("validate: max trajectory length must be >= 1")
	}
	if t.EpisodesPerBatch < 1 {
		return fmt.Errorf("validate: episodes per batch must be >= 1")
	}
	if t.CkptFreq < 1 {
		return fmt.Errorf("validate: checkpoint frequency must be >= 1")
	}
	if t.NumEnvs < 1 {
		return fmt.Errorf("validate: num envs must be >= 1")
	}

	if c.Eval.NumEpisodes < 0 {
		return fmt.Errorf("validate: eval num episodes must be >= 0")
	}

	return nil
}
