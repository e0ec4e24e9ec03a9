package main

import (
	"fmt"
	"os"

	"FedMint/internal/logger"
)

func main() {
	cfg := parseFlags()

	logger.Init(cfg.Debug)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	var err error
	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	coord, err := NewCoordinator(cfg)
	if err != nil {
		return fmt.Errorf("create coordinator:\n%w", err)
	}

	printStartupInfo(cfg)

	return coord.Run()
}

// printStartupInfo displays coordinator configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting FedMint coordinator",
		"http", cfg.HTTPAddress,
		"quic", cfg.QUICAddress,
		"data", cfg.DataPath,
		"artifacts", cfg.ArtifactPath,
		"modelDim", cfg.ModelDim,
		"learningRate", cfg.LearningRate,
		"batchSize", cfg.BatchSize,
		"rewardUnits", cfg.RewardUnits,
		"minSamples", cfg.MinSamples,
	)

	if cfg.PredicatePath != "" {
		logger.Info("quality predicate enabled", "wasm", cfg.PredicatePath)
	}
}
