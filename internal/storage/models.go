package storage

import "time"

// User holds the base combat stats a participant is materialised from.
// Accounts, gear and chores are owned by the CRUD service; only the columns
// read here are mapped.
type User struct {
	ID      int64  `gorm:"primaryKey"`
	Role    string `gorm:"not null;default:'kid'"`
	Name    string `gorm:"not null"`
	HP      int    `gorm:"column:hp;not null;default:10"`
	Attack  int    `gorm:"not null;default:1"`
	Defense int    `gorm:"not null;default:1"`
	Speed   int    `gorm:"not null;default:1"`
}

type Battle struct {
	ID          int64 `gorm:"primaryKey"`
	BossID      int64 `gorm:"index"`
	TotalDamage int64 `gorm:"not null;default:0"`
	Resolved    bool  `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

// BattleContribution is one ledger entry: cumulative damage per (battle, user).
type BattleContribution struct {
	BattleID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Damage   int64 `gorm:"not null;default:0"`
}

// DamageEvent records every applied increment by key so a replayed write is a no-op.
type DamageEvent struct {
	Key       string `gorm:"primaryKey;size:64"`
	BattleID  int64  `gorm:"index;not null"`
	UserID    int64  `gorm:"not null"`
	Amount    int64  `gorm:"not null"`
	CreatedAt time.Time
}

// BattleRecord is the durable battle as seen by the room store.
type BattleRecord struct {
	BattleID int64
	BossID   int64
	Resolved bool
}

type CombatStats struct {
	UserID  int64
	Name    string
	HP      int
	Attack  int
	Defense int
	Speed   int
}
