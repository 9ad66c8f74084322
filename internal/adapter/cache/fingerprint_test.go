package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

func req(prompt string, opts domain.RequestOptions, files ...domain.FileRef) *domain.Request {
	return &domain.Request{Prompt: prompt, Files: files, Options: opts}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(req("hello world", domain.RequestOptions{Model: "gpt-4o"}))
	b := Fingerprint(req("hello world", domain.RequestOptions{Model: "gpt-4o"}))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_WhitespaceNormalised(t *testing.T) {
	a := Fingerprint(req("hello   world", domain.RequestOptions{}))
	b := Fingerprint(req("  hello\nworld  ", domain.RequestOptions{}))
	assert.Equal(t, a, b, "cosmetic reformatting must not split the cache")
}

func TestFingerprint_FileOrderIrrelevant(t *testing.T) {
	f1 := domain.FileRef{Path: "a.go", Hash: "aaa"}
	f2 := domain.FileRef{Path: "b.go", Hash: "bbb"}

	a := Fingerprint(req("p", domain.RequestOptions{}, f1, f2))
	b := Fingerprint(req("p", domain.RequestOptions{}, f2, f1))
	assert.Equal(t, a, b)
}

func TestFingerprint_OptionsSubset(t *testing.T) {
	base := domain.RequestOptions{Model: "gpt-4o", MaxTokens: 100}

	withTimeout := base
	withTimeout.Timeout = 5e9
	withRAG := base
	withRAG.UseRAG = true
	withRAG.RAGQuery = "q"
	withBypass := base
	withBypass.BypassCache = true

	ref := Fingerprint(req("p", base))
	assert.Equal(t, ref, Fingerprint(req("p", withTimeout)), "timeout is outside the subset")
	assert.Equal(t, ref, Fingerprint(req("p", withRAG)), "rag settings are outside the subset")
	assert.Equal(t, ref, Fingerprint(req("p", withBypass)), "cache flags are outside the subset")

	otherModel := base
	otherModel.Model = "gpt-4o-mini"
	assert.NotEqual(t, ref, Fingerprint(req("p", otherModel)))

	otherTokens := base
	otherTokens.MaxTokens = 200
	assert.NotEqual(t, ref, Fingerprint(req("p", otherTokens)))
}

func TestFingerprint_NilTemperatureDiffersFromZero(t *testing.T) {
	zero := 0.0
	a := Fingerprint(req("p", domain.RequestOptions{}))
	b := Fingerprint(req("p", domain.RequestOptions{Temperature: &zero}))
	assert.NotEqual(t, a, b, "backend default must not collide with explicit zero")
}

func TestFingerprint_BackendCaseInsensitive(t *testing.T) {
	a := Fingerprint(req("p", domain.RequestOptions{Backend: "OpenAI"}))
	b := Fingerprint(req("p", domain.RequestOptions{Backend: "openai"}))
	assert.Equal(t, a, b)
}
