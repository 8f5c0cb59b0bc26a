package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/allaspectsdev/tokenpress/internal/config"
)

// KeyPrefix namespaces optimizer result keys in shared backends.
const KeyPrefix = "opt:cache:"

// KeyInput is everything that determines an optimization result. Two
// requests with the same KeyInput produce the same key and may share a
// cached result.
type KeyInput struct {
	Messages    any             `json:"messages"`
	Tools       any             `json:"tools,omitempty"`
	RAGChunks   any             `json:"rag_chunks,omitempty"`
	ToolOutputs any             `json:"tool_outputs,omitempty"`
	Model       string          `json:"model"`
	Config      config.Resolved `json:"config"`
}

// Key computes the cache key: the prefix plus the first 16 hex chars of the
// SHA-256 of the canonical JSON encoding. encoding/json sorts map keys, so
// the encoding is stable across runs for the same logical input.
func Key(in KeyInput) string {
	data, err := json.Marshal(in)
	if err != nil {
		// Marshal of plain request data cannot realistically fail; fall
		// back to hashing nothing rather than erroring a cache lookup.
		data = nil
	}
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])[:16]
}
