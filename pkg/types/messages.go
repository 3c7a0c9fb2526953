package types

import "encoding/json"

// Client -> Server
// Every frame is an envelope {"event": string, "data": object}.
//
// join:
//   battleId: number
//   user: { id: number }   // ignored when the connection carries a verified token
//
// get: {}                  // re-send the current state to this connection only
// ready: {}
// start: {}
//
// action:
//   type: "attack" | "defend"

// Server -> Client
// state:
//   version: number
//   battle: BattleView
//
// error:
//   message: string

const (
	EventJoin   = "join"
	EventGet    = "get"
	EventReady  = "ready"
	EventStart  = "start"
	EventAction = "action"

	EventState = "state"
	EventError = "error"
)

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinData struct {
	BattleID int64    `json:"battleId"`
	User     JoinUser `json:"user"`
}

type JoinUser struct {
	ID int64 `json:"id"`
}

type ActionData struct {
	Type string `json:"type"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type StateData struct {
	Version int        `json:"version"`
	Battle  BattleView `json:"battle"`
}

type ErrorData struct {
	Message string `json:"message"`
}
