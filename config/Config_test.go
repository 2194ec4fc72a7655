package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pranav-putta/bcnav/solver"
)

const testConfigJSON = `{
	"Exp": {
		"RootDir": "/tmp/exps",
		"Group": "nav",
		"JobType": "train",
		"Name": "bc+lr=3e-4"
	},
	"Train": {
		"Steps": 100,
		"BatchSize": 16,
		"MinibatchSize": 4,
		"NumGradAccums": 2,
		"EpisodesPerBatch": 4,
		"CkptFreq": 10,
		"MaxGradNorm": 1.0,
		"MaxTrajectoryLength": 8,
		"NumEnvs": 2,
		"Seed": 42,
		"DatasetDir": "/tmp/data",
		"TimeoutSeconds": 30,
		"Solver": {
			"Type": "Adam",
			"Config": {
				"StepSize": 0.0003,
				"Epsilon": 1e-8,
				"Beta1": 0.9,
				"Beta2": 0.999
			}
		},
		"LRSchedule": {
			"ScheduleType": "LinearWarmup",
			"ScheduleConfig": {
				"LR": 0.0003,
				"WarmupSteps": 10
			}
		}
	},
	"Eval": {
		"NumEpisodes": 5,
		"NumEnvs": 2,
		"DTGThreshold": 0.2,
		"Deterministic": true,
		"Artifact": {"Name": "nav-train-bc", "Version": "*"}
	}
}`

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigJSON))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Train.Solver.Type != solver.Adam {
		t.Errorf("wrong solver type \n\twant(%v)\n\thave(%v)", solver.Adam,
			cfg.Train.Solver.Type)
	}
	if cfg.Train.LRSchedule.ScheduleType != solver.LinearWarmup {
		t.Errorf("wrong schedule type \n\twant(%v)\n\thave(%v)",
			solver.LinearWarmup, cfg.Train.LRSchedule.ScheduleType)
	}
	if lr := cfg.Train.LRSchedule.LR(); lr != 0 {
		t.Errorf("warmup lr at step 0 \n\twant(%v)\n\thave(%v)", 0.0, lr)
	}
	if cfg.Eval.Artifact.Version != "*" {
		t.Errorf("wrong artifact version \n\twant(%v)\n\thave(%v)", "*",
			cfg.Eval.Artifact.Version)
	}
}

func TestFolderLayoutAndArtifactName(t *testing.T) {
	e := Exp{RootDir: "/tmp/exps", Group: "nav", JobType: "train",
		Name: "bc+lr=3e-4"}

	if got := e.Folder(); got != "/tmp/exps/nav/train/bc+lr=3e-4" {
		t.Errorf("wrong folder \n\twant(%v)\n\thave(%v)",
			"/tmp/exps/nav/train/bc+lr=3e-4", got)
	}
	if got := e.CheckpointDir(); filepath.Base(got) != "ckpts" {
		t.Errorf("wrong checkpoint dir %v", got)
	}

	// Artifact names may not contain + or =.
	if got := e.ArtifactName(); got != "nav-train-bc_lr_3e-4" {
		t.Errorf("wrong artifact name \n\twant(%v)\n\thave(%v)",
			"nav-train-bc_lr_3e-4", got)
	}
}

func TestValidateRejectsBadPartitions(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, testConfigJSON))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	indivisible := base()
	indivisible.Train.MinibatchSize = 5
	if err := indivisible.Validate(); err == nil {
		t.Error("minibatch size not dividing the batch should not validate")
	}

	badAccums := base()
	badAccums.Train.NumGradAccums = 3
	if err := badAccums.Validate(); err == nil {
		t.Error("accums not dividing the minibatch count should not validate")
	}

	noHorizon := base()
	noHorizon.Train.MaxTrajectoryLength = 0
	if err := noHorizon.Validate(); err == nil {
		t.Error("zero horizon should not validate")
	}
}
