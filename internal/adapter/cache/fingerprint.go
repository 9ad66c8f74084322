package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// Fingerprint derives the deterministic 256-bit cache key for a request:
// hash of (normalised prompt || sorted file hashes || options subset
// {backend?, model, maxTokens, temperature}). Anything outside the subset
// (timeouts, RAG settings, cache flags) never changes the key.
func Fingerprint(req *domain.Request) string {
	h := sha256.New()

	h.Write([]byte(normalizePrompt(req.Prompt)))
	h.Write([]byte{0})

	hashes := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		hashes = append(hashes, f.Hash)
	}
	sort.Strings(hashes)
	for _, fh := range hashes {
		h.Write([]byte(fh))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})

	opts := req.Options
	fmt.Fprintf(h, "backend=%s|model=%s|maxTokens=%d|temperature=%s",
		strings.ToLower(opts.Backend),
		strings.ToLower(opts.Model),
		opts.MaxTokens,
		normalizeTemperature(opts.Temperature),
	)

	return hex.EncodeToString(h.Sum(nil))
}

// normalizePrompt trims and collapses internal whitespace runs so cosmetic
// reformatting cannot split the cache.
func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// normalizeTemperature renders a fixed-precision value; nil means "backend
// default" and must fingerprint differently from an explicit zero.
func normalizeTemperature(t *float64) string {
	if t == nil {
		return "default"
	}
	return fmt.Sprintf("%.2f", *t)
}
