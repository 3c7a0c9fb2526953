package engine

import "sort"

// ComputeOrder sorts participants by speed, fastest first. Equal speeds keep join order.
func ComputeOrder(s State) []int64 {
	order := make([]int64, 0, len(s.Joined))
	for _, id := range s.Joined {
		if _, ok := s.Participants[id]; ok {
			order = append(order, id)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return s.Participants[order[i]].Speed > s.Participants[order[j]].Speed
	})
	return order
}

// advance moves the turn cursor one step and reports whether it wrapped to a new round.
func advance(s State) (State, bool) {
	s.TurnIndex = (s.TurnIndex + 1) % len(s.Order)
	if s.TurnIndex == 0 {
		s.Round++
		return s, true
	}
	return s, false
}
