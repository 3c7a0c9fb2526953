package engine

import "math/rand/v2"

type ActionType string

const (
	ActionAttack ActionType = "attack"
	ActionDefend ActionType = "defend"
)

// Roller draws a uniform integer in [1, sides].
type Roller interface {
	Roll(sides int) int
}

type RollerFunc func(sides int) int

func (f RollerFunc) Roll(sides int) int { return f(sides) }

// DiceRoller is the production Roller.
var DiceRoller Roller = RollerFunc(func(sides int) int {
	return rand.IntN(sides) + 1
})

const attackDie = 20

type actionHandler func(p *Participant, roller Roller) LastAction

// actionHandlers is the closed set of actions a participant may take on their turn.
// Adding a kind means adding a constant and an entry here.
var actionHandlers = map[ActionType]actionHandler{
	ActionAttack: resolveAttack,
	ActionDefend: resolveDefend,
}

func resolveAttack(p *Participant, roller Roller) LastAction {
	roll := roller.Roll(attackDie)
	return LastAction{Type: ActionAttack, Roll: roll, Dmg: AttackDamage(p.Attack, roll)}
}

func resolveDefend(*Participant, Roller) LastAction {
	return LastAction{Type: ActionDefend}
}

// AttackDamage never returns less than 1.
func AttackDamage(attack, roll int) int {
	return max(1, attack+roll/10)
}

// ParseAction maps a wire action name onto a known ActionType.
func ParseAction(name string) (ActionType, bool) {
	a := ActionType(name)
	_, ok := actionHandlers[a]
	return a, ok
}
