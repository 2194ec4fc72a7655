package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"

	"github.com/pranav-putta/bcnav/dataset"
	"github.com/pranav-putta/bcnav/environment"
	"github.com/pranav-putta/bcnav/policy"
	"github.com/pranav-putta/bcnav/rollout"
)

// Collector rolls a policy out in an environment and writes the
// completed episodes into the offline dataset format the trainer
// consumes. One Collect call fills the rollout storage once, extracts
// the episodes that finished inside the window, and carries the
// trailing partial episode over into the next call.
type Collector struct {
	env     environment.VectorEnv
	model   policy.Model
	storage *rollout.Storage
	gen     *policy.ActionGenerator

	outDir       string
	dtgThreshold float64
	count        int
	started      bool
	lastObs      []environment.Observation
	lastDones    []bool
}

// NewCollector returns a collector writing episode files under outDir.
// maxSteps is the rollout window per Collect call and horizon bounds
// the policy's observation history.
func NewCollector(env environment.VectorEnv, model policy.Model,
	frameShape []int, maxSteps, horizon int, deterministic bool,
	dtgThreshold float64, outDir string) (*Collector, error) {
	storage, err := rollout.New(env.NumEnvs(), maxSteps, frameShape)
	if err != nil {
		return nil, fmt.Errorf("newCollector: %v", err)
	}
	gen, err := policy.NewActionGenerator(model.Stepper(), env.NumEnvs(),
		horizon, deterministic)
	if err != nil {
		return nil, fmt.Errorf("newCollector: %v", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("newCollector: could not create %v: %v",
			outDir, err)
	}

	return &Collector{
		env:          env,
		model:        model,
		storage:      storage,
		gen:          gen,
		outDir:       outDir,
		dtgThreshold: dtgThreshold,
	}, nil
}

// Collect fills the rollout window once and writes every episode that
// completed during it. It returns the number of episodes written.
func (c *Collector) Collect() (int, error) {
	numEnvs := c.env.NumEnvs()
	if c.lastDones == nil {
		c.lastDones = make([]bool, numEnvs)
	}
	dones := c.lastDones

	if !c.started {
		obs, err := c.env.Reset()
		if err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}
		rgbs, goals, err := stackObs(obs)
		if err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}
		if err := c.storage.Insert(rgbs, goals, nil); err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}
		c.lastObs = obs
		c.started = true
	}

	for t := 0; t < c.storage.MaxSteps(); t++ {
		rgbEmbds := make([]*tensor.Dense, numEnvs)
		goalEmbds := make([]*tensor.Dense, numEnvs)
		for i, o := range c.lastObs {
			var err error
			rgbEmbds[i], goalEmbds[i], err = c.model.EmbedVisual(o.Rgb,
				o.ImageGoal)
			if err != nil {
				return 0, fmt.Errorf("collect: %v", err)
			}
		}

		actions, err := c.gen.Next(rgbEmbds, goalEmbds, dones)
		if err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}

		obs, rewards, stepDones, infos, err := c.env.Step(actions)
		if err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}

		successes := make([]bool, numEnvs)
		for i := range successes {
			successes[i] = stepDones[i] &&
				infos[i].DistanceToGoal <= c.dtgThreshold
		}

		rgbs, goals, err := stackObs(obs)
		if err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}
		tr := &rollout.Transition{
			Dones:     stepDones,
			Actions:   actions,
			Rewards:   rewards,
			Successes: successes,
		}
		if err := c.storage.Insert(rgbs, goals, tr); err != nil {
			return 0, fmt.Errorf("collect: %v", err)
		}

		dones = stepDones
		c.lastDones = stepDones
		c.lastObs = obs
	}

	c.storage.ToHost()
	written, err := c.write(c.storage.GenerateSamples())
	if err != nil {
		return 0, fmt.Errorf("collect: %v", err)
	}
	c.storage.Reset()
	return written, nil
}

// write persists the completed episodes from one window. Trailing
// segments that have not reached a done yet stay in the storage and
// complete in a later window.
func (c *Collector) write(samples *rollout.Samples) (int, error) {
	written := 0
	for _, ep := range samples.Episodes() {
		if ep.Len() == 0 || !ep.Dones[ep.Len()-1] {
			continue
		}
		path := filepath.Join(c.outDir,
			fmt.Sprintf("ep.%06d.bin", c.count))
		if err := dataset.WriteEpisode(path, ep); err != nil {
			return written, err
		}
		c.count++
		written++
	}
	return written, nil
}

// stackObs packs per-environment observations into the batched frame
// tensors the rollout storage consumes.
func stackObs(obs []environment.Observation) (*tensor.Dense,
	*tensor.Dense, error) {
	if len(obs) == 0 {
		return nil, nil, fmt.Errorf("stackObs: no observations")
	}

	frameShape := obs[0].Rgb.Shape()
	frameSize := frameShape.TotalSize()
	shape := append([]int{len(obs)}, frameShape...)

	rgbs := make([]float64, len(obs)*frameSize)
	goals := make([]float64, len(obs)*frameSize)
	for i, o := range obs {
		if !o.Rgb.Shape().Eq(frameShape) || !o.ImageGoal.Shape().Eq(frameShape) {
			return nil, nil, fmt.Errorf("stackObs: observation %v has "+
				"mismatched frame shape", i)
		}
		copy(rgbs[i*frameSize:(i+1)*frameSize], o.Rgb.Data().([]float64))
		copy(goals[i*frameSize:(i+1)*frameSize],
			o.ImageGoal.Data().([]float64))
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(rgbs)),
		tensor.New(tensor.WithShape(shape...), tensor.WithBacking(goals)),
		nil
}
