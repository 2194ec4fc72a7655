package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/pranav-putta/bcnav/checkpoint"
	"github.com/pranav-putta/bcnav/config"
	"github.com/pranav-putta/bcnav/dataset"
	"github.com/pranav-putta/bcnav/distrib"
	"github.com/pranav-putta/bcnav/episode"
	"github.com/pranav-putta/bcnav/policy"
	"github.com/pranav-putta/bcnav/writer"
)

// Rendezvous keys. Rank 0 publishes a value under each key exactly
// once; every other rank blocks until the key appears.
const (
	// KeyDataFiles carries the dataset file list, joined by ";".
	KeyDataFiles = "data_files"

	// KeyResumeCkpt carries the checkpoint path a resumed run restores
	// from. An empty value means there is nothing to resume.
	KeyResumeCkpt = "resume_ckpt"
)

// BCTrainer runs behavior cloning as one worker of an SPMD training
// group. Every worker executes the same loop over its own episode
// draws; gradients are averaged across the group by the minibatch
// scheduler, a barrier closes every step, and scalar statistics are
// all-reduced so each worker reports the same numbers. Rank 0 alone
// writes checkpoints and statistics.
type BCTrainer struct {
	cfg       *config.Config
	rank      int
	worldSize int

	store   distrib.KVStore
	barrier distrib.Barrier
	reducer distrib.AllReducer

	model   policy.Model
	writer  writer.Writer
	manager *checkpoint.Manager

	scheduler *Scheduler
	learner   *SyncLearner

	data    *dataset.Dataset
	sampler *dataset.ResumableSampler
	rng     *rand.Rand

	stats checkpoint.Stats
}

// New returns a trainer for one worker. The model, coordination
// primitives, and writer are injected; dataset discovery, resumption,
// and the optimizer wiring happen in Setup.
func New(cfg *config.Config, rank, worldSize int, model policy.Model,
	store distrib.KVStore, barrier distrib.Barrier,
	reducer distrib.AllReducer, w writer.Writer) (*BCTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("new: rank %v out of range [0, %v)", rank,
			worldSize)
	}
	if cfg.Train.Solver.Config == nil {
		return nil, fmt.Errorf("new: no solver configured")
	}
	if cfg.Train.LRSchedule.ScheduleConfig == nil {
		return nil, fmt.Errorf("new: no learning rate schedule configured")
	}

	learner, err := NewSyncLearner(model, reducer, worldSize)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	scheduler := &Scheduler{
		BatchSize:     cfg.Train.BatchSize,
		MinibatchSize: cfg.Train.MinibatchSize,
		NumGradAccums: cfg.Train.NumGradAccums,
		MaxGradNorm:   cfg.Train.MaxGradNorm,
		Solver:        &cfg.Train.Solver,
	}
	if err := scheduler.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	manager, err := checkpoint.NewManager(cfg.Exp.CheckpointDir(),
		cfg.Train.CkptFreq)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// The episode visit order is shared group state so its checkpoint
	// is well defined; per-rank data diversity comes from this rng,
	// which drives window offsets and minibatch shuffling.
	rng := rand.New(rand.NewSource(cfg.Train.Seed + uint64(rank)))

	return &BCTrainer{
		cfg:       cfg,
		rank:      rank,
		worldSize: worldSize,
		store:     store,
		barrier:   barrier,
		reducer:   reducer,
		model:     model,
		writer:    w,
		manager:   manager,
		scheduler: scheduler,
		learner:   learner,
		rng:       rng,
	}, nil
}

// Setup performs the one-time rendezvous: rank 0 discovers the dataset
// files and the resume checkpoint and publishes both; every other rank
// blocks until they appear. All ranks then open the dataset and, when
// resuming, restore the checkpointed training state.
func (t *BCTrainer) Setup() error {
	files, err := t.rendezvousFiles()
	if err != nil {
		return fmt.Errorf("setup: %v", err)
	}

	t.data, err = dataset.Open(files)
	if err != nil {
		return fmt.Errorf("setup: %v", err)
	}

	t.sampler, err = dataset.NewResumableSampler(t.data.Len(),
		t.cfg.Train.Seed)
	if err != nil {
		return fmt.Errorf("setup: %v", err)
	}

	resume, err := t.rendezvousResume()
	if err != nil {
		return fmt.Errorf("setup: %v", err)
	}
	if resume != "" {
		if err := t.loadCheckpoint(resume); err != nil {
			return fmt.Errorf("setup: %v", err)
		}
	}
	return nil
}

func (t *BCTrainer) rendezvousFiles() ([]string, error) {
	if t.rank == 0 {
		files, err := dataset.ListFiles(t.cfg.Train.DatasetDir)
		if err != nil {
			return nil, err
		}
		if err := t.store.Set(KeyDataFiles,
			strings.Join(files, ";")); err != nil {
			return nil, err
		}
		return files, nil
	}

	if err := t.store.Wait(KeyDataFiles); err != nil {
		return nil, err
	}
	joined, err := t.store.Get(KeyDataFiles)
	if err != nil {
		return nil, err
	}
	return strings.Split(joined, ";"), nil
}

func (t *BCTrainer) rendezvousResume() (string, error) {
	if t.rank == 0 {
		path := ""
		if t.cfg.Exp.ResumeID != "" {
			latest, err := t.manager.Latest()
			switch {
			case errors.Is(err, checkpoint.ErrNoCheckpoints):
				// A resume id with no checkpoints yet starts fresh.
			case err != nil:
				return "", err
			default:
				path = latest
			}
		}
		return path, t.store.Set(KeyResumeCkpt, path)
	}

	if err := t.store.Wait(KeyResumeCkpt); err != nil {
		return "", err
	}
	return t.store.Get(KeyResumeCkpt)
}

// Train runs the loop until the configured number of steps have been
// taken, counting any steps restored from a checkpoint.
func (t *BCTrainer) Train() error {
	if t.data == nil {
		return fmt.Errorf("train: Setup has not been run")
	}

	for t.stats.Step < t.cfg.Train.Steps {
		if err := t.step(); err != nil {
			return fmt.Errorf("train: step %v: %v", t.stats.Step, err)
		}
	}
	return nil
}

// step trains on one batch and closes it with the group barrier and
// the statistics all-reduce.
func (t *BCTrainer) step() error {
	idxs, wrapped := t.sampler.Next(t.cfg.Train.EpisodesPerBatch)
	if wrapped && t.stats.Step > 0 {
		t.stats.Epoch++
	}

	eps := make([]episode.Episode, len(idxs))
	for i, idx := range idxs {
		ep, err := t.data.Episode(idx)
		if err != nil {
			return err
		}
		eps[i] = ep
	}

	samples, err := episode.SampleSubsequences(t.rng,
		t.cfg.Train.BatchSize, t.cfg.Train.MaxTrajectoryLength, eps)
	if err != nil {
		return err
	}

	frames := 0
	for _, s := range samples {
		frames += s.ValidSteps()
	}

	loss, err := t.scheduler.Run(t.rng, samples, t.learner)
	if err != nil {
		return err
	}

	t.cfg.Train.LRSchedule.Step()
	lr := t.cfg.Train.LRSchedule.LR()
	t.cfg.Train.Solver.SetLearnRate(lr)

	if err := t.barrier.Wait(); err != nil {
		return err
	}

	stats, err := t.reduceStats(map[string]float64{
		"frames": float64(frames),
		"loss":   loss,
		"lr":     lr,
	})
	if err != nil {
		return err
	}

	t.stats.Step++
	t.stats.TotalFrames += int(stats["frames"]) * t.worldSize

	if t.rank == 0 {
		stats["epoch"] = float64(t.stats.Epoch)
		stats["total_frames"] = float64(t.stats.TotalFrames)
		t.writer.Write(t.stats.Step, stats)

		if t.stats.Step%t.cfg.Train.CkptFreq == 0 {
			path, err := t.saveCheckpoint()
			if err != nil {
				return err
			}
			if err := t.writer.SaveArtifact(t.cfg.Exp.ArtifactName(),
				path); err != nil {
				return err
			}
		}
	}
	return nil
}

// reduceStats averages the named scalars across the group. The keys
// are walked in sorted order so every rank packs the reduction vector
// identically.
func (t *BCTrainer) reduceStats(
	stats map[string]float64) (map[string]float64, error) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vec := make([]float64, len(keys))
	for i, k := range keys {
		vec[i] = stats[k]
	}

	if err := t.reducer.AllReduce(vec); err != nil {
		return nil, fmt.Errorf("could not reduce stats: %v", err)
	}

	out := make(map[string]float64, len(keys))
	for i, k := range keys {
		out[k] = vec[i] / float64(t.worldSize)
	}
	return out, nil
}

func (t *BCTrainer) saveCheckpoint() (string, error) {
	optState, err := t.cfg.Train.Solver.State()
	if err != nil {
		return "", fmt.Errorf("could not snapshot solver: %v", err)
	}
	schedState, err := t.cfg.Train.LRSchedule.State()
	if err != nil {
		return "", fmt.Errorf("could not snapshot schedule: %v", err)
	}
	cfgJSON, err := json.Marshal(t.cfg)
	if err != nil {
		return "", fmt.Errorf("could not snapshot config: %v", err)
	}

	state := &checkpoint.State{
		Model:     t.model.TrainableWeights(),
		Optimizer: optState,
		Schedule:  schedState,
		Sampler:   t.sampler.State(),
		Config:    cfgJSON,
		Stats:     t.stats,
	}

	path, err := t.manager.Save(t.stats.Step, state)
	if err != nil {
		return "", fmt.Errorf("could not save checkpoint: %v", err)
	}
	return path, nil
}

// loadCheckpoint restores a full training state. Weights apply
// leniently, so a checkpoint may carry a subset of the model; the
// optimizer, schedule and sampler restore strictly.
func (t *BCTrainer) loadCheckpoint(path string) error {
	state, err := t.manager.Load(path)
	if err != nil {
		return err
	}

	t.model.SetWeights(state.Model)
	if err := t.cfg.Train.Solver.SetState(state.Optimizer); err != nil {
		return fmt.Errorf("could not restore solver: %v", err)
	}
	if err := t.cfg.Train.LRSchedule.SetState(state.Schedule); err != nil {
		return fmt.Errorf("could not restore schedule: %v", err)
	}
	if err := t.sampler.Restore(state.Sampler); err != nil {
		return fmt.Errorf("could not restore sampler: %v", err)
	}
	t.stats = state.Stats
	t.cfg.Train.Solver.SetLearnRate(t.cfg.Train.LRSchedule.LR())
	return nil
}

// Stats returns the cumulative training counters.
func (t *BCTrainer) Stats() checkpoint.Stats { return t.stats }
