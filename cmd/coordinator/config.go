package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
)

// Config holds the coordinator configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// ArtifactPath is the directory for published model snapshots.
	ArtifactPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC submission gateway listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey signs the gateway's TLS certificate.
	PrivateKey ed25519.PrivateKey

	// ModelDim is the global model's weight vector length.
	ModelDim int

	// LearningRate scales each merge step.
	LearningRate float64

	// BatchSize divides the learning rate per merge step.
	BatchSize int

	// RewardUnits is the reward budget distributed per merge round.
	RewardUnits uint64

	// MinSamples is the minimum sample count per submission.
	MinSamples uint64

	// PredicatePath is an optional quality-predicate WASM module path.
	PredicatePath string

	// Debug enables debug logging.
	Debug bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.ArtifactPath, "artifacts", "", "Artifact directory (default <data>/artifacts)")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC gateway address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.IntVar(&cfg.ModelDim, "model-dim", 2, "Global model weight vector length")
	flag.Float64Var(&cfg.LearningRate, "learning-rate", 0.01, "Merge learning rate")
	flag.IntVar(&cfg.BatchSize, "batch-size", 32, "Merge batch size divisor")
	flag.Uint64Var(&cfg.RewardUnits, "reward-units", 10, "Reward budget per merge round")
	flag.Uint64Var(&cfg.MinSamples, "min-samples", 1, "Minimum sample count per submission")
	flag.StringVar(&cfg.PredicatePath, "predicate", "", "Quality predicate WASM path (optional)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = cfg.DataPath + "/artifacts"
	}

	return cfg
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
