// Command bcnav trains and evaluates a behavior cloned navigation
// policy from a JSON configuration file.
//
//	bcnav [flags] config.json
//
// Training is the default mode. --eval rolls out saved checkpoints
// instead, --collect generates dataset episodes with the current
// policy, and --debug runs everything against the built-in synthetic
// environment and reference policy on a single worker.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pranav-putta/bcnav/config"
	"github.com/pranav-putta/bcnav/distrib"
	"github.com/pranav-putta/bcnav/environment"
	"github.com/pranav-putta/bcnav/experiment"
	"github.com/pranav-putta/bcnav/policy"
	"github.com/pranav-putta/bcnav/trainer"
	"github.com/pranav-putta/bcnav/writer"
)

// debugFrameShape is the observation shape of the synthetic
// environment used by --debug runs.
var debugFrameShape = []int{4, 4}

const debugEpisodeLen = 32

func main() {
	var (
		eval    = flag.Bool("eval", false, "evaluate saved checkpoints")
		collect = flag.Bool("collect", false,
			"collect dataset episodes with the current policy")
		debug = flag.Bool("debug", false,
			"use the synthetic environment and reference policy")
		resume = flag.String("resume", "",
			"resume id of a previous run to continue")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %v [flags] config.json\n",
			os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if *resume != "" {
		cfg.Exp.ResumeID = *resume
	}

	if !*debug {
		// Production policies and simulators plug in behind the policy
		// and environment interfaces; this binary ships only the debug
		// harness.
		log.Fatal("no production policy is linked into this binary; " +
			"run with --debug")
	}

	model, err := policy.NewLinearSoftmax(debugFrameShape,
		environment.NumSyntheticActions, cfg.Train.Seed)
	if err != nil {
		log.Fatal(err)
	}

	switch {
	case *eval:
		err = runEval(cfg, model)
	case *collect:
		err = runCollect(cfg, model)
	default:
		err = runTrain(cfg, model)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runTrain(cfg *config.Config, model policy.Model) error {
	timeout := time.Duration(cfg.Train.TimeoutSeconds) * time.Second
	group, err := distrib.NewLocalGroup(1, timeout)
	if err != nil {
		return err
	}

	w := writer.NewLog(cfg.Exp.Folder())
	t, err := trainer.New(cfg, 0, group.Size(), model, group.KVStore(),
		group.Barrier(), group.AllReducer(), w)
	if err != nil {
		return err
	}
	if err := t.Setup(); err != nil {
		return err
	}
	return t.Train()
}

func runEval(cfg *config.Config, model policy.Model) error {
	env, err := environment.NewSynthetic(cfg.Eval.NumEnvs, debugFrameShape,
		debugEpisodeLen, cfg.Train.Seed)
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := experiment.NewRenderer(8)
	if err != nil {
		return err
	}

	e, err := experiment.NewEvaluator(cfg, model, env, renderer)
	if err != nil {
		return err
	}
	return e.Run()
}

func runCollect(cfg *config.Config, model policy.Model) error {
	env, err := environment.NewSynthetic(cfg.Train.NumEnvs,
		debugFrameShape, debugEpisodeLen, cfg.Train.Seed)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := experiment.NewCollector(env, model, debugFrameShape,
		debugEpisodeLen, cfg.Train.MaxTrajectoryLength,
		cfg.Eval.Deterministic, cfg.Eval.DTGThreshold,
		cfg.Train.DatasetDir)
	if err != nil {
		return err
	}

	written := 0
	for written < cfg.Train.EpisodesPerBatch {
		n, err := c.Collect()
		if err != nil {
			return err
		}
		written += n
	}
	log.Printf("collected %v episodes under %v", written,
		cfg.Train.DatasetDir)
	return nil
}
