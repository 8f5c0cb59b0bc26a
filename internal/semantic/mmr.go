package semantic

import (
	"sort"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// Candidate pairs a block with its query similarity and embedding for
// diversified selection.
type Candidate struct {
	Block      *block.Block
	Similarity float64
	Embedding  []float32
}

// SortCandidates orders candidates by similarity, highest first. MMR assumes
// this ordering.
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
}

// MMR picks up to topK blocks by Maximal Marginal Relevance:
//
//	score = lambda*sim(query, c) - (1-lambda)*max(sim(c, selected))
//
// balancing relevance against redundancy with already-selected blocks. When
// the candidate set fits inside topK it is returned whole.
func MMR(candidates []Candidate, lambda float64, topK int) []*block.Block {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= topK {
		selected := make([]*block.Block, len(candidates))
		for i, c := range candidates {
			selected[i] = c.Block
		}
		return selected
	}

	selected := make([]*block.Block, 0, topK)
	selectedEmbeddings := make([][]float32, 0, topK)

	// The highest-similarity candidate has no redundancy term.
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	selected = append(selected, remaining[0].Block)
	selectedEmbeddings = append(selectedEmbeddings, remaining[0].Embedding)
	remaining = remaining[1:]

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(remaining[0], selectedEmbeddings, lambda)

		for i := 1; i < len(remaining); i++ {
			if score := mmrScore(remaining[i], selectedEmbeddings, lambda); score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}

		selected = append(selected, remaining[bestIdx].Block)
		selectedEmbeddings = append(selectedEmbeddings, remaining[bestIdx].Embedding)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func mmrScore(c Candidate, selectedEmbeddings [][]float32, lambda float64) float64 {
	redundancy := 0.0
	for _, emb := range selectedEmbeddings {
		if sim := Dot(c.Embedding, emb); sim > redundancy {
			redundancy = sim
		}
	}
	return lambda*c.Similarity - (1-lambda)*redundancy
}
