package domain

import (
	"time"
)

// RAGRequest is a retrieval query handed to a provider.
type RAGRequest struct {
	Query      string
	MaxResults int
	Threshold  float64
	Context    string
	Metadata   map[string]string
}

// RAGResult is one retrieved context fragment. Score is normalised to [0,1].
type RAGResult struct {
	Content  string
	Score    float64
	Source   string
	Metadata map[string]string
}

// RAGResponse is the transient result of a retrieval pass. It is never cached
// beyond the enclosing request.
type RAGResponse struct {
	Results        []RAGResult
	TotalResults   int
	Processing     time.Duration
	StrategySource string // vector | graph | hybrid
}

// Empty reports whether the retrieval succeeded but found nothing. Empty
// results are a success, not a failure.
func (r *RAGResponse) Empty() bool {
	return r == nil || len(r.Results) == 0
}

// RAGProviderStatus is the registry's view of one provider.
type RAGProviderStatus struct {
	Name        string
	Connected   bool
	Healthy     bool
	LastChecked time.Time
}
