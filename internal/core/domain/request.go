package domain

import (
	"time"
)

// ContextStrategy controls how retrieved context is combined with the prompt.
type ContextStrategy string

const (
	ContextStrategyPrepend ContextStrategy = "prepend"
	ContextStrategyAppend  ContextStrategy = "append"
	ContextStrategyInject  ContextStrategy = "inject"

	// ContextInjectToken is the literal replaced by the inject strategy.
	ContextInjectToken = "{context}"
)

func (s ContextStrategy) IsValid() bool {
	switch s {
	case ContextStrategyPrepend, ContextStrategyAppend, ContextStrategyInject:
		return true
	default:
		return false
	}
}

// FileRef identifies an attached file by content hash. Loading file content is
// the host's concern; the core only needs a stable hash for fingerprinting.
type FileRef struct {
	Path string
	Hash string
	Size int64
}

// RequestOptions carries the per-call knobs. The zero value means
// "route freely, cache normally, no RAG".
type RequestOptions struct {
	Backend         string
	Model           string
	MaxTokens       int
	Temperature     *float64
	BypassCache     bool
	UseRAG          bool
	RAGStrict       bool
	RAGQuery        string
	RAGProvider     string
	ContextStrategy ContextStrategy
	Timeout         time.Duration
}

// Request is an immutable generation request as accepted by Optimize.
type Request struct {
	ID      string
	Prompt  string
	Files   []FileRef
	Options RequestOptions
}

// EffectiveOptions is the fully resolved per-send parameter set handed to a
// backend adapter: request options merged over the backend's configured
// defaults, plus the (possibly RAG-enriched) prompt.
type EffectiveOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Timeout     time.Duration
}
