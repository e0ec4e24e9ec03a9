package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"FedMint/client"
	"FedMint/internal/api"
	"FedMint/internal/content"
	"FedMint/internal/engine"
	"FedMint/internal/gateway"
	"FedMint/internal/ledger"
	"FedMint/internal/model"
	"FedMint/internal/storage"
	"FedMint/internal/store"
)

const (
	// httpAddr is the coordinator HTTP address for the test.
	httpAddr = "127.0.0.1:8190"

	// startupWait is how long to poll for the HTTP server to come up.
	startupWait = 5 * time.Second
)

// recordingIssuer issues rewards and counts per-participant totals.
type recordingIssuer struct {
	totals map[string]uint64
}

func (r *recordingIssuer) Issue(_ context.Context, participant string, amount uint64) (string, error) {
	if r.totals == nil {
		r.totals = make(map[string]uint64)
	}
	r.totals[participant] += amount

	return fmt.Sprintf("receipt-%s-%d", participant, r.totals[participant]), nil
}

// startCoordinator wires the full stack over a temp directory.
func startCoordinator(t *testing.T, issuer ledger.IssuanceService) (*engine.Engine, *gateway.Gateway) {
	t.Helper()

	dir, err := os.MkdirTemp("", "coordinator_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.Open(dir + "/db")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	st := store.New(db)
	if err := st.Init(make([]float64, 2)); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}

	cs, err := content.NewLocalStore(dir + "/artifacts")
	if err != nil {
		t.Fatalf("failed to create content store: %v", err)
	}

	params := engine.Params{LearningRate: 0.01, BatchSize: 32, RewardUnits: 10, MinSamples: 1}
	lg := ledger.New(db, issuer)
	eng := engine.New(params, st, lg, cs, nil)

	server := api.New(httpAddr, eng, lg)
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start api: %v", err)
	}

	t.Cleanup(func() {
		server.Stop()
	})

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	gw, err := gateway.New("127.0.0.1:0", priv, eng)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	if err := gw.Start(); err != nil {
		t.Fatalf("failed to start gateway: %v", err)
	}

	t.Cleanup(func() {
		gw.Close()
	})

	return eng, gw
}

// waitForClient polls until the coordinator's HTTP API answers.
func waitForClient(t *testing.T) *client.Client {
	t.Helper()

	deadline := time.Now().Add(startupWait)

	for {
		c, err := client.NewClient(httpAddr)
		if err == nil {
			return c
		}

		if time.Now().After(deadline) {
			t.Fatalf("coordinator did not come up: %v", err)
		}

		time.Sleep(50 * time.Millisecond)
	}
}

func TestCoordinatorEndToEnd(t *testing.T) {
	issuer := &recordingIssuer{}
	startCoordinator(t, issuer)

	c := waitForClient(t)

	// Round one: a single participant takes the full budget.
	outcome, err := c.SubmitUpdate("node-a", []float64{1, 1}, 70, []float64{0.9})
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	if outcome.State != "complete" {
		t.Fatalf("expected complete, got %+v", outcome)
	}

	firstRound := outcome.RoundID

	// Round two: the budget splits 70/30.
	outcome, err = c.SubmitUpdate("node-b", []float64{0.5, -0.5}, 30, nil)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	if outcome.State != "complete" {
		t.Fatalf("expected complete, got %+v", outcome)
	}

	issued := make(map[string]uint64)
	for _, a := range outcome.Issued {
		issued[a.Participant] = a.Amount
	}

	if issued["node-a"] != 7 || issued["node-b"] != 3 {
		t.Errorf("expected a=7 b=3, got %v", issued)
	}

	// The model advanced twice from version 1.
	info, err := c.Model()
	if err != nil {
		t.Fatalf("model fetch failed: %v", err)
	}

	if info.NumSamples != 100 || len(info.Weights) != 2 {
		t.Errorf("unexpected model: %+v", info)
	}

	// Participant ledger reflects both rounds.
	participants, err := c.Participants()
	if err != nil {
		t.Fatalf("participants fetch failed: %v", err)
	}

	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}

	if participants[0].ID != "node-a" || participants[0].Participation != 0.7 {
		t.Errorf("unexpected node-a entry: %+v", participants[0])
	}

	if got := participants[0].RewardsIssued; got != 17 {
		t.Errorf("node-a: expected 17 issued, got %d", got)
	}

	// The first round's distribution log is inspectable and fully issued.
	records, err := c.Round(firstRound)
	if err != nil {
		t.Fatalf("round fetch failed: %v", err)
	}

	if len(records) != 1 || !records[0].Issued || records[0].Receipt == "" {
		t.Errorf("unexpected records: %+v", records)
	}

	// External issuer totals match the ledger.
	if issuer.totals["node-a"] != 17 || issuer.totals["node-b"] != 3 {
		t.Errorf("unexpected issuer totals: %v", issuer.totals)
	}
}

func TestCoordinatorRejectsOverHTTP(t *testing.T) {
	startCoordinator(t, &recordingIssuer{})

	c := waitForClient(t)

	outcome, err := c.SubmitUpdate("node-a", []float64{math.Inf(1), 0}, 10, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if outcome.State != "rejected" || outcome.Reason != "non_finite_weight" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	// Nothing merged, nothing issued.
	info, err := c.Model()
	if err != nil {
		t.Fatalf("model fetch failed: %v", err)
	}

	if info.NumSamples != 0 || info.Version != 1 {
		t.Errorf("rejected submission mutated the model: %+v", info)
	}
}

func TestCoordinatorGatewaySubmission(t *testing.T) {
	_, gw := startCoordinator(t, &recordingIssuer{})

	c := waitForClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receipt, err := gateway.Submit(ctx, gw.Addr(), &model.LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{1, 1},
		NumSamples: 10,
	})
	if err != nil {
		t.Fatalf("gateway submit failed: %v", err)
	}

	if receipt.State != "complete" || receipt.RoundID == "" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// The merge is visible over HTTP as well.
	info, err := c.Model()
	if err != nil {
		t.Fatalf("model fetch failed: %v", err)
	}

	if info.NumSamples != 10 {
		t.Errorf("expected 10 samples, got %d", info.NumSamples)
	}
}
