// Package gateway accepts local-update submissions over QUIC.
// Participants open a bidirectional stream, send one length-prefixed
// encoded update, and receive the round receipt on the same stream.
// Heavier than the HTTP API for small updates, but keeps a single
// connection cheap for participants pushing large weight vectors.
package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"FedMint/internal/engine"
	"FedMint/internal/logger"
	"FedMint/internal/model"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "fedmint/1"

	// streamTimeout bounds a single submission exchange.
	streamTimeout = 30 * time.Second
)

// RoundRunner processes one submission.
type RoundRunner interface {
	RunRound(ctx context.Context, update *model.LocalUpdate) (*engine.RoundOutcome, error)
}

// Receipt is the wire response to a submission.
type Receipt struct {
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	RoundID      string `json:"roundId,omitempty"`
	ModelVersion uint64 `json:"modelVersion,omitempty"`
	ArtifactID   string `json:"artifactId,omitempty"`
}

// Gateway is the QUIC submission listener.
type Gateway struct {
	listenAddr string       // listenAddr is the QUIC listen address
	tlsConfig  *tls.Config  // tlsConfig carries the self-signed server certificate
	quicConfig *quic.Config // quicConfig is the QUIC configuration
	runner     RoundRunner  // runner processes submissions

	listener *quic.Listener // listener is the QUIC listener

	ctx    context.Context    // ctx is the gateway's context
	cancel context.CancelFunc // cancel cancels the gateway's context
	wg     sync.WaitGroup     // wg waits for connection handlers
}

// New creates a Gateway listening on the given address.
func New(listenAddr string, privateKey ed25519.PrivateKey, runner RoundRunner) (*Gateway, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	cert, err := generateCertificate(privateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  60 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Gateway{
		listenAddr: listenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		runner:     runner,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins accepting connections.
func (g *Gateway) Start() error {
	listener, err := quic.ListenAddr(g.listenAddr, g.tlsConfig, g.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", g.listenAddr, err)
	}

	g.listener = listener

	g.wg.Add(1)
	go g.acceptLoop()

	logger.Info("quic gateway started", "addr", listener.Addr().String())

	return nil
}

// Addr returns the listener's address. Empty if not started.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}

	return g.listener.Addr().String()
}

// Close stops the gateway and waits for in-flight handlers.
func (g *Gateway) Close() error {
	g.cancel()

	var err error
	if g.listener != nil {
		err = g.listener.Close()
	}

	g.wg.Wait()

	return err
}

// acceptLoop accepts incoming connections until the gateway is closed.
func (g *Gateway) acceptLoop() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept(g.ctx)
		if err != nil {
			return
		}

		g.wg.Add(1)
		go g.handleConn(conn)
	}
}

// handleConn accepts submission streams on one connection.
func (g *Gateway) handleConn(conn *quic.Conn) {
	defer g.wg.Done()

	for {
		stream, err := conn.AcceptStream(g.ctx)
		if err != nil {
			return
		}

		g.wg.Add(1)
		go g.handleStream(stream)
	}
}

// handleStream processes one submission exchange.
func (g *Gateway) handleStream(stream *quic.Stream) {
	defer g.wg.Done()
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(streamTimeout))

	data, err := readFrame(stream)
	if err != nil {
		logger.Debug("gateway frame read error", "error", err)
		return
	}

	update, err := model.DecodeLocalUpdate(data)
	if err != nil {
		g.respond(stream, &Receipt{Error: fmt.Sprintf("invalid update: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, streamTimeout)
	defer cancel()

	outcome, err := g.runner.RunRound(ctx, update)

	receipt := &Receipt{}
	if outcome != nil {
		receipt.State = string(outcome.State)
		receipt.Reason = string(outcome.Reason)
		receipt.RoundID = outcome.RoundID
		receipt.ModelVersion = outcome.ModelVersion
		receipt.ArtifactID = outcome.ArtifactID
	}
	if err != nil && (outcome == nil || outcome.State != engine.StateRejected) {
		receipt.Error = err.Error()
	}

	g.respond(stream, receipt)
}

// respond writes a receipt frame, logging on failure.
func (g *Gateway) respond(stream *quic.Stream, receipt *Receipt) {
	payload, err := json.Marshal(receipt)
	if err != nil {
		logger.Error("marshal receipt", "error", err)
		return
	}

	if err := writeFrame(stream, payload); err != nil {
		logger.Debug("gateway frame write error", "error", err)
	}
}

// Submit sends one update to a gateway and returns the receipt.
// Used by participant-side tooling; the certificate is not verified
// beyond the ALPN handshake (gateways publish their address out of band).
func Submit(ctx context.Context, addr string, update *model.LocalUpdate) (*Receipt, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial gateway:\n%w", err)
	}
	defer conn.CloseWithError(0, "done")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, model.EncodeLocalUpdate(update)); err != nil {
		return nil, fmt.Errorf("write update:\n%w", err)
	}

	payload, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read receipt:\n%w", err)
	}

	receipt := &Receipt{}
	if err := json.Unmarshal(payload, receipt); err != nil {
		return nil, fmt.Errorf("decode receipt:\n%w", err)
	}

	return receipt, nil
}
