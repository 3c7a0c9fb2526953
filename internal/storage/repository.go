package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBattleNotFound = errors.New("battle not found")
var ErrUserNotFound = errors.New("user not found")
var ErrNegativeDamage = errors.New("damage must not be negative")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindBattle(ctx context.Context, battleID int64) (BattleRecord, error) {
	var b Battle
	err := r.db.WithContext(ctx).First(&b, battleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BattleRecord{}, ErrBattleNotFound
	}
	if err != nil {
		return BattleRecord{}, fmt.Errorf("find battle %d: %w", battleID, err)
	}
	return BattleRecord{BattleID: b.ID, BossID: b.BossID, Resolved: b.Resolved}, nil
}

func (r *Repository) FindUserCombatStats(ctx context.Context, userID int64) (CombatStats, error) {
	var u User
	err := r.db.WithContext(ctx).
		Select("id", "name", "hp", "attack", "defense", "speed").
		First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CombatStats{}, ErrUserNotFound
	}
	if err != nil {
		return CombatStats{}, fmt.Errorf("find user %d: %w", userID, err)
	}
	return CombatStats{
		UserID:  u.ID,
		Name:    u.Name,
		HP:      u.HP,
		Attack:  u.Attack,
		Defense: u.Defense,
		Speed:   u.Speed,
	}, nil
}

// AddDamage adds amount to the (battle, user) contribution and the battle total.
// key identifies the increment: applying the same key twice changes nothing.
func (r *Repository) AddDamage(ctx context.Context, key string, battleID, userID int64, amount int) error {
	if amount < 0 {
		return ErrNegativeDamage
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev := DamageEvent{Key: key, BattleID: battleID, UserID: userID, Amount: int64(amount)}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
		if res.Error != nil {
			return fmt.Errorf("record damage event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		c := BattleContribution{BattleID: battleID, UserID: userID, Damage: int64(amount)}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "battle_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"damage": gorm.Expr("battle_contributions.damage + excluded.damage"),
			}),
		}).Create(&c).Error
		if err != nil {
			return fmt.Errorf("upsert contribution: %w", err)
		}

		return tx.Model(&Battle{}).
			Where("id = ?", battleID).
			UpdateColumn("total_damage", gorm.Expr("total_damage + ?", amount)).Error
	})
}

func (r *Repository) Contributions(ctx context.Context, battleID int64) ([]BattleContribution, error) {
	var out []BattleContribution
	err := r.db.WithContext(ctx).
		Where("battle_id = ?", battleID).
		Order("damage desc, user_id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list contributions for battle %d: %w", battleID, err)
	}
	return out, nil
}
