package gateway

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"FedMint/internal/engine"
	"FedMint/internal/model"
)

// fakeRunner returns a canned outcome for every submission.
type fakeRunner struct {
	updates []*model.LocalUpdate
	outcome *engine.RoundOutcome
	err     error
}

func (f *fakeRunner) RunRound(_ context.Context, update *model.LocalUpdate) (*engine.RoundOutcome, error) {
	f.updates = append(f.updates, update)
	return f.outcome, f.err
}

// startTestGateway starts a gateway on a random port.
func startTestGateway(t *testing.T, runner RoundRunner) *Gateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	gw, err := New("127.0.0.1:0", priv, runner)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	if err := gw.Start(); err != nil {
		t.Fatalf("failed to start gateway: %v", err)
	}

	t.Cleanup(func() {
		gw.Close()
	})

	return gw
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte("frame body")
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Errorf("expected %q, got %q", payload, got)
	}
}

func TestFrameSizeLimit(t *testing.T) {
	var buf bytes.Buffer

	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); err == nil {
		t.Error("expected error for oversized frame")
	}

	// A forged oversized length prefix is rejected before allocation.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := readFrame(&buf); err == nil {
		t.Error("expected error for oversized length prefix")
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	runner := &fakeRunner{
		outcome: &engine.RoundOutcome{
			State:        engine.StateComplete,
			RoundID:      "round1",
			ModelVersion: 2,
		},
	}

	gw := startTestGateway(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update := &model.LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{0.5, -1.25},
		NumSamples: 10,
	}

	receipt, err := Submit(ctx, gw.Addr(), update)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if receipt.State != "complete" || receipt.RoundID != "round1" || receipt.ModelVersion != 2 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	if receipt.Error != "" {
		t.Errorf("unexpected error in receipt: %s", receipt.Error)
	}

	if len(runner.updates) != 1 {
		t.Fatalf("expected 1 processed update, got %d", len(runner.updates))
	}

	got := runner.updates[0]
	if got.Submitter != "node-a" || got.NumSamples != 10 || len(got.Weights) != 2 {
		t.Errorf("update corrupted in transit: %+v", got)
	}
}

func TestSubmitRejectedCarriesReason(t *testing.T) {
	runner := &fakeRunner{
		outcome: &engine.RoundOutcome{
			State:  engine.StateRejected,
			Reason: "sample_count_too_low",
		},
		err: fmt.Errorf("submission rejected"),
	}

	gw := startTestGateway(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receipt, err := Submit(ctx, gw.Addr(), &model.LocalUpdate{
		Submitter: "node-a",
		Weights:   []float64{1},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if receipt.State != "rejected" || receipt.Reason != "sample_count_too_low" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	// A rejection is an outcome, not a transport error.
	if receipt.Error != "" {
		t.Errorf("unexpected error in receipt: %s", receipt.Error)
	}
}
