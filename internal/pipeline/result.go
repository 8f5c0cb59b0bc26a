package pipeline

import (
	"math"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/config"
)

// Request carries one conversation through the optimizer.
type Request struct {
	Messages    []block.Message
	Tools       any
	RAGContext  []map[string]any
	ToolOutputs []block.ToolOutput
	Model       string

	// Tenant is the vector-store isolation key, normally the caller's API
	// key. Empty disables persistence for this request.
	Tenant string

	TenantID  string
	ProjectID string
	RequestID string

	// Config is the fully resolved configuration for this request
	// (defaults merged with dashboard and per-request overrides).
	Config config.Resolved
}

// BlockInfo describes one block's fate in the optimizer output.
type BlockInfo struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Tokens int    `json:"tokens"`
	Reason string `json:"reason"`
}

// Stats summarizes an optimizer run.
type Stats struct {
	TokensBefore     int     `json:"tokens_before"`
	TokensAfter      int     `json:"tokens_after"`
	TokensSaved      int     `json:"tokens_saved"`
	CompressionRatio float64 `json:"compression_ratio"`
	CacheHit         bool    `json:"cache_hit"`
	Route            string  `json:"route"`
	FallbackUsed     bool    `json:"fallback_used"`
	LatencyMs        int64   `json:"latency_ms"`

	// APIKeyPrefix is stamped by the API layer for downstream log ingestion.
	APIKeyPrefix string `json:"api_key_prefix,omitempty"`
}

// Debug carries trace and introspection data alongside the stats.
type Debug struct {
	TraceID        string           `json:"trace_id"`
	ConfigResolved config.Resolved  `json:"config_resolved"`
	FeaturesUsed   []string         `json:"features_used"`
	StageTimingsMs map[string]int64 `json:"stage_timings_ms"`
}

// Result is the full output of one optimizer run. It serializes to JSON as
// the /v1/optimize response body and as the cached result value.
type Result struct {
	OptimizedMessages []block.Message `json:"optimized_messages"`
	SelectedBlocks    []BlockInfo     `json:"selected_blocks"`
	DroppedBlocks     []BlockInfo     `json:"dropped_blocks"`
	Stats             Stats           `json:"stats"`
	Debug             Debug           `json:"debug"`
}

// savingsRatio returns (before-after)/before rounded to two decimals, the
// figure reported as compression_ratio in stats.
func savingsRatio(before, after int) float64 {
	if before <= 0 {
		return 0
	}
	r := float64(before-after) / float64(before)
	return math.Round(r*100) / 100
}
