// Package experiment implements the outer experiment surfaces: rollout
// evaluation of saved checkpoints, episode video rendering, and expert
// episode collection into the offline dataset format.
package experiment

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"

	"github.com/pranav-putta/bcnav/checkpoint"
	"github.com/pranav-putta/bcnav/config"
	"github.com/pranav-putta/bcnav/environment"
	"github.com/pranav-putta/bcnav/policy"
)

// EpisodeStats counts evaluation outcomes for one checkpoint.
type EpisodeStats struct {
	TotalEpisodes      int
	SuccessfulEpisodes int
}

// Evaluator rolls out checkpointed policies in an environment and
// accumulates per-checkpoint success statistics. The statistics file
// is rewritten after every completed episode, so a killed evaluation
// resumes where it stopped, and checkpoints whose episode quota is
// already met are skipped entirely.
type Evaluator struct {
	cfg      *config.Config
	model    policy.Model
	env      environment.VectorEnv
	manager  *checkpoint.Manager
	renderer *Renderer

	logger *log.Logger
	stats  map[string]EpisodeStats
}

// NewEvaluator returns an evaluator over the experiment's checkpoint
// directory. renderer may be nil to disable videos regardless of the
// configuration.
func NewEvaluator(cfg *config.Config, model policy.Model,
	env environment.VectorEnv, renderer *Renderer) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newEvaluator: %v", err)
	}

	manager, err := checkpoint.NewManager(cfg.Exp.CheckpointDir(),
		cfg.Train.CkptFreq)
	if err != nil {
		return nil, fmt.Errorf("newEvaluator: %v", err)
	}
	if err := os.MkdirAll(cfg.Exp.EvalDir(), 0o755); err != nil {
		return nil, fmt.Errorf("newEvaluator: could not create eval "+
			"directory: %v", err)
	}

	e := &Evaluator{
		cfg:      cfg,
		model:    model,
		env:      env,
		manager:  manager,
		renderer: renderer,
		logger:   log.New(os.Stderr, "eval: ", log.LstdFlags),
		stats:    make(map[string]EpisodeStats),
	}
	if err := e.loadStats(); err != nil {
		return nil, fmt.Errorf("newEvaluator: %v", err)
	}
	return e, nil
}

func (e *Evaluator) statsPath() string {
	return filepath.Join(e.cfg.Exp.EvalDir(), "stats.json")
}

func (e *Evaluator) loadStats() error {
	data, err := os.ReadFile(e.statsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read stats: %v", err)
	}
	if err := json.Unmarshal(data, &e.stats); err != nil {
		return fmt.Errorf("could not decode stats: %v", err)
	}
	return nil
}

// writeStats rewrites the whole statistics file. It is small, so
// rewriting per episode is what makes the evaluation resumable.
func (e *Evaluator) writeStats() error {
	data, err := json.MarshalIndent(e.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode stats: %v", err)
	}
	if err := os.WriteFile(e.statsPath(), data, 0o644); err != nil {
		return fmt.Errorf("could not write stats: %v", err)
	}
	return nil
}

// Stats returns the per-checkpoint statistics accumulated so far.
func (e *Evaluator) Stats() map[string]EpisodeStats {
	out := make(map[string]EpisodeStats, len(e.stats))
	for k, v := range e.stats {
		out[k] = v
	}
	return out
}

// versions resolves the configured artifact version to checkpoint
// paths. "*" selects every checkpoint, newest first; an explicit
// version selects its single checkpoint file.
func (e *Evaluator) versions() ([]string, error) {
	v := e.cfg.Eval.Artifact.Version
	switch v {
	case "*":
		return e.manager.Versions()
	case "", "latest":
		latest, err := e.manager.Latest()
		if err != nil {
			return nil, err
		}
		return []string{latest}, nil
	default:
		path := filepath.Join(e.manager.Dir(),
			fmt.Sprintf("ckpt.%v.bin", v))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no checkpoint for version %v: %v", v,
				err)
		}
		return []string{path}, nil
	}
}

// Run evaluates every selected checkpoint.
func (e *Evaluator) Run() error {
	paths, err := e.versions()
	if err != nil {
		return fmt.Errorf("run: %v", err)
	}

	for _, path := range paths {
		if err := e.EvalCheckpoint(path); err != nil {
			return fmt.Errorf("run: %v: %v", filepath.Base(path), err)
		}
	}
	return nil
}

// EvalCheckpoint rolls out one checkpoint until its episode quota is
// met. Weights apply non-strictly and the model is frozen before any
// rollouts. Video rendering failures are logged and never interrupt
// the evaluation.
func (e *Evaluator) EvalCheckpoint(path string) error {
	name := filepath.Base(path)
	if e.stats[name].TotalEpisodes >= e.cfg.Eval.NumEpisodes {
		e.logger.Printf("%v: already evaluated, skipping", name)
		return nil
	}

	state, err := e.manager.Load(path)
	if err != nil {
		return err
	}
	e.model.SetWeights(state.Model)
	e.model.Freeze()

	numEnvs := e.cfg.Eval.NumEnvs
	gen, err := policy.NewActionGenerator(e.model.Stepper(), numEnvs,
		e.cfg.Train.MaxTrajectoryLength, e.cfg.Eval.Deterministic)
	if err != nil {
		return err
	}

	obs, err := e.env.Reset()
	if err != nil {
		return err
	}
	if len(obs) != numEnvs {
		return fmt.Errorf("evalCheckpoint: environment stepped %v scenes, "+
			"expected %v", len(obs), numEnvs)
	}

	dones := make([]bool, numEnvs)
	frames := make([][]*tensor.Dense, numEnvs)
	metrics := make([][]float64, numEnvs)
	episodeIdx := 0

	for e.stats[name].TotalEpisodes < e.cfg.Eval.NumEpisodes {
		rgbEmbds := make([]*tensor.Dense, numEnvs)
		goalEmbds := make([]*tensor.Dense, numEnvs)
		for i, o := range obs {
			rgbEmbds[i], goalEmbds[i], err = e.model.EmbedVisual(o.Rgb,
				o.ImageGoal)
			if err != nil {
				return err
			}
			frames[i] = append(frames[i], o.Rgb)
		}

		actions, err := gen.Next(rgbEmbds, goalEmbds, dones)
		if err != nil {
			return err
		}

		var infos []environment.Info
		obs, _, dones, infos, err = e.env.Step(actions)
		if err != nil {
			return err
		}

		for i := range infos {
			metrics[i] = append(metrics[i], infos[i].DistanceToGoal)
			if !dones[i] {
				continue
			}

			stats := e.stats[name]
			stats.TotalEpisodes++
			if infos[i].DistanceToGoal <= e.cfg.Eval.DTGThreshold {
				stats.SuccessfulEpisodes++
			}
			e.stats[name] = stats
			if err := e.writeStats(); err != nil {
				return err
			}

			if e.cfg.Eval.SaveVideos && e.renderer != nil {
				dir := filepath.Join(e.cfg.Exp.EvalDir(), "videos", name,
					fmt.Sprintf("episode_%04d", episodeIdx))
				if err := e.renderer.Render(dir, frames[i],
					metrics[i]); err != nil {
					e.logger.Printf("%v: could not render episode %v: %v",
						name, episodeIdx, err)
				}
			}
			episodeIdx++
			frames[i] = frames[i][:0]
			metrics[i] = metrics[i][:0]
		}
	}

	final := e.stats[name]
	e.logger.Printf("%v: %v/%v episodes successful", name,
		final.SuccessfulEpisodes, final.TotalEpisodes)
	return nil
}
