package heuristics

import "github.com/allaspectsdev/tokenpress/internal/block"

// keepLastNTurns pins the blocks of the last n conversation turns. A turn
// begins at each user message; assistant messages belong to the turn of the
// user message that preceded them. Pinned blocks become must-keep with
// priority raised to at least 0.9.
func keepLastNTurns(blocks []*block.Block, n int) {
	if n < 1 {
		n = 1
	}

	var turns [][]*block.Block
	var current []*block.Block

	for _, b := range blocks {
		if b.Type != block.TypeUser && b.Type != block.TypeAssistant {
			continue
		}

		current = append(current, b)

		// A user message after earlier blocks closes the previous turn.
		if b.Type == block.TypeUser && len(current) > 1 {
			turns = append(turns, current[:len(current)-1])
			current = []*block.Block{b}
		}
	}
	if len(current) > 0 {
		turns = append(turns, current)
	}

	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	for _, turn := range turns {
		for _, b := range turn {
			b.MustKeep = true
			if b.Priority < 0.9 {
				b.Priority = 0.9
			}
		}
	}
}
