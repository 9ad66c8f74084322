package rag

import (
	"fmt"
	"strings"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// ApplyStrategy combines retrieved context with the user prompt. The inject
// strategy replaces the literal {context} token and falls back to prepend
// when the token is absent.
func ApplyStrategy(strategy domain.ContextStrategy, prompt string, results []domain.RAGResult) string {
	if len(results) == 0 {
		return prompt
	}
	block := formatContext(results)

	switch strategy {
	case domain.ContextStrategyAppend:
		return prompt + "\n\nContext:\n" + block
	case domain.ContextStrategyInject:
		if strings.Contains(prompt, domain.ContextInjectToken) {
			return strings.ReplaceAll(prompt, domain.ContextInjectToken, block)
		}
		fallthrough
	default: // prepend
		return "Context:\n" + block + "\n\n" + prompt
	}
}

func formatContext(results []domain.RAGResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(r.Content))
		if i < len(results)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
