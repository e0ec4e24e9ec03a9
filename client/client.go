// Package client connects to a coordinator's HTTP API.
package client

import (
	"fmt"
	"net/url"
)

// Client connects to a coordinator via HTTP.
type Client struct {
	coordAddr string // coordAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// ModelInfo holds the current global model state from the API.
type ModelInfo struct {
	Version       uint64    `json:"version"`       // Version is the optimistic-concurrency version
	NumSamples    uint64    `json:"numSamples"`    // NumSamples is the cumulative sample count
	Weights       []float64 `json:"weights"`       // Weights is the global weight vector
	WeightsDigest string    `json:"weightsDigest"` // WeightsDigest is the hex digest of the weights
}

// ParticipantInfo holds one participant's bookkeeping.
type ParticipantInfo struct {
	ID            string  `json:"id"`            // ID identifies the participant
	Samples       uint64  `json:"samples"`       // Samples is the cumulative contributed sample count
	Participation float64 `json:"participation"` // Participation is the participant's share of samples
	RewardsIssued uint64  `json:"rewardsIssued"` // RewardsIssued is the total issued so far
}

// RoundRecord holds one distribution-log entry for a round.
type RoundRecord struct {
	Participant string `json:"participant"`       // Participant identifies the recipient
	Amount      uint64 `json:"amount"`            // Amount is the allocated reward
	Issued      bool   `json:"issued"`            // Issued marks whether the reward went out
	Receipt     string `json:"receipt,omitempty"` // Receipt is the issuance receipt if issued
}

// Outcome is the coordinator's response to a submission or retry.
type Outcome struct {
	State        string       `json:"state"`                  // State is the terminal round state
	Reason       string       `json:"reason,omitempty"`       // Reason explains a rejection
	RoundID      string       `json:"roundId,omitempty"`      // RoundID identifies the merge round
	ModelVersion uint64       `json:"modelVersion,omitempty"` // ModelVersion is the post-merge version
	ArtifactID   string       `json:"artifactId,omitempty"`   // ArtifactID addresses the published snapshot
	Issued       []Allocation `json:"issued,omitempty"`       // Issued lists rewards issued this call
	Shortfall    uint64       `json:"shortfall,omitempty"`    // Shortfall is the unfunded remainder
	Error        string       `json:"error,omitempty"`        // Error carries a server-side failure
}

// Allocation is one participant's issued amount.
type Allocation struct {
	Participant string `json:"participant"` // Participant identifies the recipient
	Amount      uint64 `json:"amount"`      // Amount is the issued reward
}

// NewClient creates a client connected to a coordinator.
// It verifies the coordinator is reachable via the /health endpoint.
func NewClient(coordAddr string) (*Client, error) {
	var health struct {
		Status string `json:"status"`
	}

	if err := httpGet("http://"+coordAddr+"/health", &health); err != nil {
		return nil, fmt.Errorf("get health:\n%w", err)
	}

	if health.Status != "ok" {
		return nil, fmt.Errorf("coordinator unhealthy: %q", health.Status)
	}

	return &Client{coordAddr: coordAddr}, nil
}

// SubmitUpdate sends one local update and returns the round outcome.
// A rejected submission is not an error: the outcome carries the
// rejection reason and the caller decides how to react.
func (c *Client) SubmitUpdate(submitter string, weights []float64, numSamples uint64, scores []float64) (*Outcome, error) {
	body := map[string]any{
		"submitter":  submitter,
		"weights":    weights,
		"numSamples": numSamples,
	}
	if len(scores) > 0 {
		body["scores"] = scores
	}

	outcome := &Outcome{}
	if err := httpPostJSON("http://"+c.coordAddr+"/update", body, outcome); err != nil {
		return nil, fmt.Errorf("submit update:\n%w", err)
	}

	return outcome, nil
}

// Model fetches the current global model.
func (c *Client) Model() (*ModelInfo, error) {
	info := &ModelInfo{}
	if err := httpGet("http://"+c.coordAddr+"/model", info); err != nil {
		return nil, fmt.Errorf("get model:\n%w", err)
	}

	return info, nil
}

// Participants fetches all registered participants, ordered by ID.
func (c *Client) Participants() ([]ParticipantInfo, error) {
	var entries []ParticipantInfo
	if err := httpGet("http://"+c.coordAddr+"/participants", &entries); err != nil {
		return nil, fmt.Errorf("get participants:\n%w", err)
	}

	return entries, nil
}

// Round fetches the distribution log for a round.
func (c *Client) Round(roundID string) ([]RoundRecord, error) {
	var records []RoundRecord
	u := "http://" + c.coordAddr + "/rounds/" + url.PathEscape(roundID)
	if err := httpGet(u, &records); err != nil {
		return nil, fmt.Errorf("get round %s:\n%w", roundID, err)
	}

	return records, nil
}

// RetryRound resumes reward distribution for a partially distributed round.
func (c *Client) RetryRound(roundID string) (*Outcome, error) {
	outcome := &Outcome{}
	u := "http://" + c.coordAddr + "/rounds/" + url.PathEscape(roundID) + "/retry"
	if err := httpPostJSON(u, map[string]any{}, outcome); err != nil {
		return nil, fmt.Errorf("retry round %s:\n%w", roundID, err)
	}

	return outcome, nil
}
