package pipeline

import "github.com/JakeFAU/harvester/internal/crawler"

// transitions lists the forward edges of the per-page loop. Aborted and
// Canceled are reachable from any non-terminal state.
var transitions = map[crawler.State][]crawler.State{
	crawler.StatePending:     {crawler.StateNavigating, crawler.StateDone},
	crawler.StateNavigating:  {crawler.StateExtracting, crawler.StateNavigating, crawler.StateDone},
	crawler.StateExtracting:  {crawler.StateNormalizing},
	crawler.StateNormalizing: {crawler.StateSaving, crawler.StateNavigating, crawler.StateDone},
	crawler.StateSaving:      {crawler.StateNavigating, crawler.StateDone},
}

func canTransition(from, to crawler.State) bool {
	if from.Terminal() {
		return false
	}
	if to == crawler.StateAborted || to == crawler.StateCanceled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
