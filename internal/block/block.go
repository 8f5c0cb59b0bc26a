package block

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a block by its origin and role in the prompt.
type Type string

const (
	TypeSystem     Type = "system"
	TypeUser       Type = "user"
	TypeAssistant  Type = "assistant"
	TypeTool       Type = "tool"
	TypeDoc        Type = "doc"
	TypeConstraint Type = "constraint"
)

// Block is the atomic unit of optimization: a typed, scored text fragment
// that can be kept, dropped, or compressed independently.
type Block struct {
	ID       string
	Type     Type
	Content  string
	Tokens   int
	MustKeep bool
	Priority float64

	// Timestamp is the creation instant, used for recency weighting and
	// dedup tie-breaking. The zero value means "no timestamp".
	Timestamp time.Time

	Metadata map[string]any

	// Compressed is set once the compressor has rewritten this block.
	// A compressed block is never rewritten again.
	Compressed bool

	// OriginalContent holds the pre-compression content when Compressed is set.
	OriginalContent string
}

// New creates a block with a fresh ID and the current timestamp.
func New(t Type, content string, tokens int, mustKeep bool, priority float64) *Block {
	return &Block{
		ID:        uuid.NewString(),
		Type:      t,
		Content:   content,
		Tokens:    tokens,
		MustKeep:  mustKeep,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// Fingerprint returns the normalized content used as the dedup key:
// lowercased, surrounding whitespace stripped.
func (b *Block) Fingerprint() string {
	return strings.ToLower(strings.TrimSpace(b.Content))
}

// FingerprintHash returns a short stable hash of a fingerprint, suitable
// for grouping.
func FingerprintHash(fingerprint string) string {
	h := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(h[:])[:16]
}

// ContentHash returns the full SHA-256 hex digest of the raw content.
// The vector store keys persisted blocks by (tenant, ContentHash).
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// Index returns the canonical position recorded at canonicalization time,
// or 0 when absent.
func (b *Block) Index() int {
	switch v := b.Metadata["index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Source returns the metadata source tag, or empty when unset.
func (b *Block) Source() string {
	if s, ok := b.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// SetMeta records a metadata value, initializing the map when the block was
// built without one.
func (b *Block) SetMeta(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	b.Metadata[key] = value
}

// TotalTokens sums the token counts of all blocks.
func TotalTokens(blocks []*Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Tokens
	}
	return total
}
