package engine

func NewState(battleID int64) State {
	return State{
		BattleID:     battleID,
		Status:       StatusLobby,
		Participants: map[int64]*Participant{},
		Order:        []int64{},
		Joined:       []int64{},
	}
}

func (s State) Has(userID int64) bool {
	_, ok := s.Participants[userID]
	return ok
}
