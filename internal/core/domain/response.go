package domain

import (
	"math"
	"time"
)

const (
	TokenSourceReported  = "reported"
	TokenSourceEstimated = "estimated"

	RAGStatusOK      = "ok"
	RAGStatusEmpty   = "empty"
	RAGStatusError   = "error"
	RAGStatusSkipped = "skipped"
)

// ResponseMetadata carries per-response diagnostics that are informative but
// not part of the cache fingerprint.
type ResponseMetadata struct {
	Model           string   `json:"model"`
	FinishReason    string   `json:"finishReason"`
	TokenSource     string   `json:"tokenSource,omitempty"`
	RAGStatus       string   `json:"ragStatus,omitempty"`
	RAGSources      []string `json:"ragSources,omitempty"`
	RoutingDecision string   `json:"routingDecision,omitempty"`
	Coalesced       bool     `json:"coalesced,omitempty"`
}

// Response is the immutable result of a completed generation request.
type Response struct {
	Content      string           `json:"content"`
	BackendUsed  string           `json:"backendUsed"`
	TokensInput  int              `json:"tokensInput"`
	TokensOutput int              `json:"tokensOutput"`
	CostEUR      float64          `json:"costEUR"`
	Latency      time.Duration    `json:"latencyMs"`
	CacheHit     bool             `json:"cacheHit"`
	Metadata     ResponseMetadata `json:"metadata"`
}

// Clone returns a shallow copy with its own metadata sources slice, so cached
// responses can be handed to concurrent callers safely.
func (r *Response) Clone() *Response {
	out := *r
	if len(r.Metadata.RAGSources) > 0 {
		out.Metadata.RAGSources = append([]string(nil), r.Metadata.RAGSources...)
	}
	return &out
}

// RoundCost truncates a EUR amount to 6 decimal places, the precision used
// everywhere cost is recorded.
func RoundCost(eur float64) float64 {
	return math.Round(eur*1e6) / 1e6
}
