package experiment

import (
	"path/filepath"
	"testing"

	"github.com/pranav-putta/bcnav/checkpoint"
	"github.com/pranav-putta/bcnav/config"
	"github.com/pranav-putta/bcnav/environment"
	"github.com/pranav-putta/bcnav/policy"
)

var evalFrameShape = []int{2, 2}

func evalConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	return &config.Config{
		Exp: config.Exp{
			RootDir: root,
			Group:   "test",
			JobType: "eval",
			Name:    "run",
		},
		Train: config.Train{
			Steps:               1,
			BatchSize:           8,
			MinibatchSize:       4,
			NumGradAccums:       2,
			EpisodesPerBatch:    1,
			CkptFreq:            1,
			MaxTrajectoryLength: 4,
			NumEnvs:             1,
			Seed:                5,
		},
		Eval: config.Eval{
			NumEpisodes:   3,
			NumEnvs:       2,
			DTGThreshold:  environment.SuccessRadius,
			Deterministic: true,
			Artifact:      config.Artifact{Version: "*"},
		},
	}
}

// saveTestCheckpoint writes one checkpoint holding the model's current
// weights and returns its path.
func saveTestCheckpoint(t *testing.T, cfg *config.Config,
	model policy.Model, step int) string {
	t.Helper()
	m, err := checkpoint.NewManager(cfg.Exp.CheckpointDir(),
		cfg.Train.CkptFreq)
	if err != nil {
		t.Fatal(err)
	}
	path, err := m.Save(step, &checkpoint.State{
		Model: model.TrainableWeights(),
		Stats: checkpoint.Stats{Step: step},
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluatorAccumulatesEpisodes(t *testing.T) {
	cfg := evalConfig(t, t.TempDir())

	model, err := policy.NewLinearSoftmax(evalFrameShape,
		environment.NumSyntheticActions, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	path := saveTestCheckpoint(t, cfg, model, 1)

	env, err := environment.NewSynthetic(cfg.Eval.NumEnvs, evalFrameShape,
		6, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	e, err := NewEvaluator(cfg, model, env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}

	name := filepath.Base(path)
	stats, ok := e.Stats()[name]
	if !ok {
		t.Fatalf("no statistics recorded for %v", name)
	}
	if stats.TotalEpisodes < cfg.Eval.NumEpisodes {
		t.Errorf("episode quota \n\twant(>= %v)\n\thave(%v)",
			cfg.Eval.NumEpisodes, stats.TotalEpisodes)
	}
	if stats.SuccessfulEpisodes > stats.TotalEpisodes {
		t.Errorf("more successes (%v) than episodes (%v)",
			stats.SuccessfulEpisodes, stats.TotalEpisodes)
	}
}

func TestEvaluatorResumesFromStatsFile(t *testing.T) {
	cfg := evalConfig(t, t.TempDir())

	model, err := policy.NewLinearSoftmax(evalFrameShape,
		environment.NumSyntheticActions, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	saveTestCheckpoint(t, cfg, model, 1)

	env, err := environment.NewSynthetic(cfg.Eval.NumEnvs, evalFrameShape,
		6, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	e, err := NewEvaluator(cfg, model, env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	before := e.Stats()

	// A fresh evaluator over the same directory reads the statistics
	// file and skips the completed checkpoint without touching it.
	e2, err := NewEvaluator(cfg, model, env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e2.Run(); err != nil {
		t.Fatal(err)
	}

	after := e2.Stats()
	for name, w := range before {
		if after[name] != w {
			t.Errorf("%v stats changed on resume \n\twant(%v)\n\thave(%v)",
				name, w, after[name])
		}
	}
}

func TestEvaluatorUnknownVersion(t *testing.T) {
	cfg := evalConfig(t, t.TempDir())
	cfg.Eval.Artifact.Version = "7"

	model, err := policy.NewLinearSoftmax(evalFrameShape,
		environment.NumSyntheticActions, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	env, err := environment.NewSynthetic(cfg.Eval.NumEnvs, evalFrameShape,
		6, cfg.Train.Seed)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	e, err := NewEvaluator(cfg, model, env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); err == nil {
		t.Error("expected an error for a missing checkpoint version")
	}
}
