package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/mansingh-04/prooback/config"
	"github.com/mansingh-04/prooback/db"
	"github.com/mansingh-04/prooback/logging"
	"github.com/mansingh-04/prooback/ml"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	modelPath := flag.String("model_path", "", "model artifact path (overrides config)")
	dbPath := flag.String("db", "", "training log database (overrides config)")
	bootstrap := flag.Bool("bootstrap", false, "write the baseline model if none exists")
	reset := flag.Bool("reset", false, "replace the model with the baseline")
	htmlFile := flag.String("html", "", "train on this HTML file")
	score := flag.Float64("score", -1, "user score for -html (0-100)")
	replay := flag.Bool("replay", false, "reset, then replay every applied example from the training log")
	show := flag.Bool("show", false, "print the active model")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	engine, err := ml.NewEngine(ml.EngineConfig{
		ModelPath: cfg.Model.Path,
		CacheSize: -1,
		Train: ml.TrainConfig{
			LearningRate: cfg.Model.LearningRate,
			MaxStep:      cfg.Model.MaxStep,
		},
	}, logger.Named("ml"))
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	switch {
	case *reset:
		if err := engine.TrainDummyModel(); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
		fmt.Printf("model reset to baseline at %s\n", cfg.Model.Path)
	case *bootstrap:
		if engine.ModelExists() {
			fmt.Printf("model already exists at %s\n", cfg.Model.Path)
		} else if err := engine.TrainDummyModel(); err != nil {
			log.Fatalf("bootstrap failed: %v", err)
		} else {
			fmt.Printf("baseline model written to %s\n", cfg.Model.Path)
		}
	case *replay:
		if err := replayLog(engine, cfg.Database.Path, logger); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
	case *htmlFile != "":
		if err := trainFile(engine, *htmlFile, *score); err != nil {
			log.Fatalf("training failed: %v", err)
		}
	}

	if *show {
		printModel(engine.Model())
	}
}

func trainFile(engine *ml.Engine, path string, score float64) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := engine.TrainFromUserData(string(raw), score, nil)
	if err != nil {
		return err
	}
	fmt.Printf("old=%.2f new=%.2f updated=%v version=%d\n", res.OldScore, res.NewScore, res.ModelUpdated, res.ModelVersion)
	return nil
}

// replayLog rebuilds the model from the baseline using stored feature vectors.
func replayLog(engine *ml.Engine, dbPath string, logger *zap.Logger) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("training log %s: %w", filepath.Clean(dbPath), err)
	}
	if err := db.InitDB(dbPath); err != nil {
		return err
	}
	defer db.Close()

	events, err := db.LoadTrainingReplay()
	if err != nil {
		return err
	}
	if err := engine.TrainDummyModel(); err != nil {
		return err
	}

	applied, skipped := 0, 0
	for _, ev := range events {
		if !ev.ModelUpdated {
			continue
		}
		if _, err := engine.TrainVector(ev.Features, ev.UserScore); err != nil {
			if ml.IsInputError(err) || errors.Is(err, ml.ErrDimensionMismatch) {
				logger.Warn("skipping unusable training event", zap.Int64("id", ev.ID), zap.Error(err))
				skipped++
				continue
			}
			return err
		}
		applied++
	}
	fmt.Printf("replayed %d examples (%d skipped), model version %d\n", applied, skipped, engine.Model().Version)
	return nil
}

func printModel(a *ml.ModelArtifact) {
	fmt.Printf("version:  %d\nexamples: %d\nupdated:  %s\nbias:     %.4f\n", a.Version, a.ExampleCount, a.UpdatedAt, a.Bias)
	weights := ml.FeatureVector(a.Weights).Named()
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-22s %8.4f\n", name, weights[name])
	}
}
