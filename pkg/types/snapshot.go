package types

// BattleView is the full room state pushed to clients after every change.
// Participants are listed in join order.
type BattleView struct {
	BattleID     int64             `json:"battleId"`
	Status       string            `json:"status"`
	Round        int               `json:"round"`
	TurnIndex    int               `json:"turnIndex"`
	Order        []int64           `json:"order"`
	Participants []ParticipantView `json:"participants"`
}

type ParticipantView struct {
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	HP        int       `json:"hp"`
	Attack    int       `json:"attack"`
	Defense   int       `json:"defense"`
	Speed     int       `json:"speed"`
	Ready     bool      `json:"ready"`
	Connected bool      `json:"connected"`
	Last      *LastView `json:"last"`
}

type LastView struct {
	Type string `json:"type"`
	Roll int    `json:"roll,omitempty"`
	Dmg  int    `json:"dmg,omitempty"`
}
