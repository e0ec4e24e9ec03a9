package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"FedMint/internal/api"
	"FedMint/internal/content"
	"FedMint/internal/engine"
	"FedMint/internal/gateway"
	"FedMint/internal/ledger"
	"FedMint/internal/logger"
	"FedMint/internal/predicate"
	"FedMint/internal/storage"
	"FedMint/internal/store"
	"FedMint/internal/validate"
)

// Coordinator is a running FedMint coordinator.
type Coordinator struct {
	cfg       *Config
	storage   *storage.Storage
	store     *store.Store
	ledger    *ledger.Ledger
	artifacts *content.LocalStore
	screen    *predicate.Screen
	engine    *engine.Engine
	api       *api.Server
	gateway   *gateway.Gateway
}

// NewCoordinator creates and initializes a coordinator.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	c := &Coordinator{cfg: cfg}

	if err := c.initStorage(); err != nil {
		return nil, err
	}

	if err := c.initArtifacts(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initPredicate(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initEngine(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// initStorage initializes the Pebble storage and the model store.
func (c *Coordinator) initStorage() error {
	dbPath := c.cfg.DataPath + "/db"

	if err := os.MkdirAll(c.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	c.storage = db
	c.store = store.New(db)

	if err := c.store.Init(make([]float64, c.cfg.ModelDim)); err != nil {
		return fmt.Errorf("init model store:\n%w", err)
	}

	return nil
}

// initArtifacts initializes the artifact content store.
func (c *Coordinator) initArtifacts() error {
	cs, err := content.NewLocalStore(c.cfg.ArtifactPath)
	if err != nil {
		return fmt.Errorf("init artifact store:\n%w", err)
	}

	c.artifacts = cs

	return nil
}

// initPredicate loads the optional quality-predicate WASM module.
func (c *Coordinator) initPredicate() error {
	if c.cfg.PredicatePath == "" {
		return nil
	}

	wasmBytes, err := os.ReadFile(c.cfg.PredicatePath)
	if err != nil {
		return fmt.Errorf("read predicate WASM:\n%w", err)
	}

	screen, err := predicate.NewScreen(wasmBytes)
	if err != nil {
		return fmt.Errorf("load predicate:\n%w", err)
	}

	c.screen = screen
	logger.Info("quality predicate loaded", "module", screen.ModuleID())

	return nil
}

// initEngine wires the round engine and the distribution ledger.
func (c *Coordinator) initEngine() error {
	c.ledger = ledger.New(c.storage, &loggingIssuer{})

	params := engine.Params{
		LearningRate: c.cfg.LearningRate,
		BatchSize:    c.cfg.BatchSize,
		RewardUnits:  c.cfg.RewardUnits,
		MinSamples:   c.cfg.MinSamples,
	}

	var pred validate.QualityPredicate = validate.AcceptAll{}
	if c.screen != nil {
		pred = c.screen
	}

	c.engine = engine.New(params, c.store, c.ledger, c.artifacts, pred)

	return nil
}

// Run starts the servers and blocks until shutdown signal.
func (c *Coordinator) Run() error {
	c.api = api.New(c.cfg.HTTPAddress, c.engine, c.ledger)
	if err := c.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	gw, err := gateway.New(c.cfg.QUICAddress, c.cfg.PrivateKey, c.engine)
	if err != nil {
		return fmt.Errorf("create gateway:\n%w", err)
	}

	if err := gw.Start(); err != nil {
		return fmt.Errorf("start gateway:\n%w", err)
	}

	c.gateway = gw

	return c.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (c *Coordinator) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return c.Close()
}

// Close shuts down all coordinator components gracefully.
func (c *Coordinator) Close() error {
	if c.api != nil {
		c.api.Stop()
	}

	if c.gateway != nil {
		c.gateway.Close()
	}

	if c.screen != nil {
		c.screen.Close()
	}

	if c.storage != nil {
		c.storage.Close()
	}

	return nil
}

// loggingIssuer issues rewards by logging them and returning a receipt.
// Stands in for an external token bridge; the distribution log stays
// correct regardless of what performs the actual transfer.
type loggingIssuer struct {
	seq atomic.Uint64
}

// Issue logs the reward and returns a deterministic receipt ID.
func (li *loggingIssuer) Issue(ctx context.Context, participant string, amount uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	seq := li.seq.Add(1)

	buf := make([]byte, 0, len(participant)+16)
	buf = append(buf, participant...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = binary.LittleEndian.AppendUint64(buf, seq)

	sum := blake3.Sum256(buf)
	receipt := hex.EncodeToString(sum[:16])

	logger.Info("reward issued",
		"participant", participant,
		"amount", amount,
		"receipt", receipt,
		"at", time.Now().UTC().Format(time.RFC3339),
	)

	return receipt, nil
}
