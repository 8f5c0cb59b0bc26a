// Package semantic provides the embedding-backed selection stage: batch
// embedding, multi-factor utility scoring and diversified top-k selection.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ErrUnavailable is returned when the embedding service is not configured.
// Callers skip the semantic stage instead of failing the request.
var ErrUnavailable = errors.New("semantic: embedding service unavailable")

// EmbedderConfig configures the remote embedding client.
type EmbedderConfig struct {
	Enabled    bool
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}

// Embedder produces L2-normalized embedding vectors through an
// OpenAI-compatible embeddings endpoint. The client is built lazily on first
// use so health checks never open a connection.
type Embedder struct {
	cfg EmbedderConfig

	once   sync.Once
	client openai.Client
}

// NewEmbedder creates an embedder. The client is not constructed until the
// first Embed call.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Embedder{cfg: cfg}
}

// Available reports whether the embedder is configured. It does not contact
// the remote endpoint.
func (e *Embedder) Available() bool {
	return e.cfg.Enabled && (e.cfg.APIKey != "" || e.cfg.BaseURL != "")
}

// Model returns the configured embedding-model identifier.
func (e *Embedder) Model() string {
	return e.cfg.Model
}

func (e *Embedder) init() {
	var opts []option.RequestOption
	if e.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(e.cfg.APIKey))
	}
	if e.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(e.cfg.BaseURL))
	}
	e.client = openai.NewClient(opts...)
}

// Embed returns one unit-norm vector per input text, preserving order.
// Inputs are sent in batches of the configured size.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.Available() {
		return nil, ErrUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}
	e.once.Do(e.init)

	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		params := openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Model: openai.EmbeddingModel(e.cfg.Model),
		}
		if e.cfg.Dimensions > 0 {
			params.Dimensions = openai.Int(int64(e.cfg.Dimensions))
		}

		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("semantic: embedding batch: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("semantic: embedding count mismatch: got %d, want %d", len(resp.Data), end-start)
		}

		batch := make([][]float32, end-start)
		for _, d := range resp.Data {
			i := int(d.Index)
			if i < 0 || i >= len(batch) {
				return nil, fmt.Errorf("semantic: embedding index %d out of range", i)
			}
			batch[i] = normalize(d.Embedding)
		}
		out = append(out, batch...)
	}

	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// normalize converts to float32 and scales to unit L2 norm. A zero vector is
// returned unchanged.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}

	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}

	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// Dot returns the inner product of two vectors. For unit-norm inputs this is
// the cosine similarity. Mismatched lengths score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
