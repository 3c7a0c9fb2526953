package engine

import (
	"errors"
)

var ErrNotYourTurn = errors.New("not your turn")
var ErrInvalidTransition = errors.New("invalid transition")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrUnknownAction = errors.New("unknown action")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusLobby  Status = "lobby"
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Profile is the immutable combat snapshot a participant joins with.
type Profile struct {
	UserID  int64
	Name    string
	HP      int
	Attack  int
	Defense int
	Speed   int
}

type LastAction struct {
	Type ActionType
	Roll int
	Dmg  int
}

type Participant struct {
	Profile
	Ready     bool
	Connected bool
	Last      *LastAction
}

type State struct {
	BattleID     int64
	Status       Status
	Round        int
	TurnIndex    int
	Participants map[int64]*Participant
	Order        []int64
	// Joined keeps first-join order; it is the tie-break when the turn order is computed.
	Joined []int64
}

type CommandType string

const (
	CmdJoin       CommandType = "Join"
	CmdReady      CommandType = "Ready"
	CmdStart      CommandType = "Start"
	CmdAct        CommandType = "Act"
	CmdDisconnect CommandType = "Disconnect"
	CmdEnd        CommandType = "End"
)

/*
	CmdJoin       -> EvtParticipantJoined | EvtParticipantReconnected
	CmdReady      -> EvtParticipantReady
	CmdStart      -> EvtBattleStarted
	CmdAct        -> EvtActionResolved [-> EvtDamageDealt] -> EvtTurnAdvanced [-> EvtRoundAdvanced]
	CmdDisconnect -> EvtParticipantDisconnected
	CmdEnd        -> EvtBattleEnded
*/

type Command struct {
	Type    CommandType
	UserID  int64
	Profile Profile // join only
	Action  ActionType
}

type EventType string

const (
	EvtParticipantJoined       EventType = "ParticipantJoined"
	EvtParticipantReconnected  EventType = "ParticipantReconnected"
	EvtParticipantReady        EventType = "ParticipantReady"
	EvtParticipantDisconnected EventType = "ParticipantDisconnected"
	EvtBattleStarted           EventType = "BattleStarted"
	EvtActionResolved          EventType = "ActionResolved"
	EvtDamageDealt             EventType = "DamageDealt"
	EvtTurnAdvanced            EventType = "TurnAdvanced"
	EvtRoundAdvanced           EventType = "RoundAdvanced"
	EvtBattleEnded             EventType = "BattleEnded"
)

type Event struct {
	Type   EventType
	UserID int64
	Action ActionType
	Roll   int
	Damage int
}

// Apply validates cmd against s and returns the resulting events and state.
// On error the returned state is s, untouched.
func Apply(s State, cmd Command, roller Roller) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		if p, ok := s.Participants[cmd.UserID]; ok {
			p.Connected = true
			return []Event{{Type: EvtParticipantReconnected, UserID: cmd.UserID}}, s, nil
		}
		profile := cmd.Profile
		profile.UserID = cmd.UserID
		s.Participants[cmd.UserID] = &Participant{Profile: profile, Connected: true}
		s.Joined = append(s.Joined, cmd.UserID)
		return []Event{{Type: EvtParticipantJoined, UserID: cmd.UserID}}, s, nil

	case CmdReady:
		p, ok := s.Participants[cmd.UserID]
		if !ok {
			return nil, s, ErrUnknownParticipant
		}
		p.Ready = true
		return []Event{{Type: EvtParticipantReady, UserID: cmd.UserID}}, s, nil

	case CmdStart:
		if s.Status != StatusLobby {
			return nil, s, ErrInvalidTransition
		}
		s.Order = ComputeOrder(s)
		s.TurnIndex = 0
		s.Round = 1
		s.Status = StatusActive
		return []Event{{Type: EvtBattleStarted, UserID: cmd.UserID}}, s, nil

	case CmdAct:
		if s.Status != StatusActive || len(s.Order) == 0 {
			return nil, s, ErrInvalidTransition
		}
		p, ok := s.Participants[cmd.UserID]
		if !ok {
			return nil, s, ErrUnknownParticipant
		}
		if current, _ := currentActor(s); current != cmd.UserID {
			return nil, s, ErrNotYourTurn
		}
		resolve, ok := actionHandlers[cmd.Action]
		if !ok {
			return nil, s, ErrUnknownAction
		}

		last := resolve(p, roller)
		p.Last = &last
		events := []Event{{Type: EvtActionResolved, UserID: cmd.UserID, Action: last.Type, Roll: last.Roll, Damage: last.Dmg}}
		if last.Dmg > 0 {
			events = append(events, Event{Type: EvtDamageDealt, UserID: cmd.UserID, Damage: last.Dmg})
		}

		var wrapped bool
		s, wrapped = advance(s)
		events = append(events, Event{Type: EvtTurnAdvanced})
		if wrapped {
			events = append(events, Event{Type: EvtRoundAdvanced})
		}
		return events, s, nil

	case CmdDisconnect:
		p, ok := s.Participants[cmd.UserID]
		if !ok {
			return nil, s, ErrUnknownParticipant
		}
		// No auto-skip: if it is p's turn the room waits for a reconnect.
		p.Connected = false
		return []Event{{Type: EvtParticipantDisconnected, UserID: cmd.UserID}}, s, nil

	case CmdEnd:
		if s.Status == StatusEnded {
			return nil, s, ErrInvalidTransition
		}
		s.Status = StatusEnded
		return []Event{{Type: EvtBattleEnded}}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func currentActor(s State) (int64, bool) {
	if s.TurnIndex < 0 || s.TurnIndex >= len(s.Order) {
		return 0, false
	}
	return s.Order[s.TurnIndex], true
}
