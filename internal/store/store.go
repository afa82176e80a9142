// Package store is the durable source of truth for users, referral edges and
// rewards. Aggregate queries here bypass the user cache on purpose.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"referral-bot/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetUser loads a user with its referrer and referred children resolved.
// Absence is an expected outcome and returns (nil, nil).
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("ReferredBy").
		Preload("Referred").
		Where("telegram_id = ?", id).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user %d: %w", user.TelegramID, err)
	}
	return nil
}

// UpdateUser writes the given fields and commits before returning. The field
// map uses column names, matching the cache write-through contract.
func (s *Store) UpdateUser(ctx context.Context, id int64, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", id).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return nil
}

// IncrementReward credits a referrer in a single conditional UPDATE so that
// concurrent joins never lose an increment. Returns false when no row matched.
func (s *Store) IncrementReward(ctx context.Context, id int64, amount float64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", id).
		Update("reward", gorm.Expr("reward + ?", amount))
	if res.Error != nil {
		return false, fmt.Errorf("failed to credit reward to user %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SettleAllRewards marks every accrued reward as claimed (admin bulk settlement).
func (s *Store) SettleAllRewards(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("claimed < reward").
		Update("claimed", gorm.Expr("reward")).Error
	if err != nil {
		return fmt.Errorf("failed to settle rewards: %w", err)
	}
	return nil
}

func (s *Store) ChildrenOf(ctx context.Context, id int64) ([]models.User, error) {
	var children []models.User
	err := s.db.WithContext(ctx).
		Where("referred_by_id = ?", id).
		Order("telegram_id").
		Find(&children).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %d: %w", id, err)
	}
	return children, nil
}

// ReferralCount counts referred users that completed the join flow.
func (s *Store) ReferralCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("referred_by_id = ? AND joined = ?", id, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals of %d: %w", id, err)
	}
	return count, nil
}

// ReferralEntry is one leaderboard row.
type ReferralEntry struct {
	ReferrerID    int64
	ReferralCount int64
}

// TopReferrers groups joined users created at or after start by referrer,
// ordered by count descending with id as a deterministic tiebreak.
func (s *Store) TopReferrers(ctx context.Context, start time.Time, limit int) ([]ReferralEntry, error) {
	var entries []ReferralEntry
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("referred_by_id AS referrer_id, COUNT(telegram_id) AS referral_count").
		Where("joined = ? AND created_at >= ? AND referred_by_id IS NOT NULL", true, start).
		Group("referred_by_id").
		Order("referral_count DESC, referred_by_id ASC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query top referrers: %w", err)
	}
	return entries, nil
}

// Stats are the program-wide aggregates shown by the /stat command.
type Stats struct {
	TotalUsers     int64
	TotalReferrals int64
	TotalJoined    int64
	TotalRewards   float64
	TotalClaimed   float64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Count(&stats.TotalUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referred_by_id IS NOT NULL").
		Count(&stats.TotalReferrals).Error; err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referred_by_id IS NOT NULL AND joined = ?", true).
		Count(&stats.TotalJoined).Error; err != nil {
		return nil, fmt.Errorf("failed to count joins: %w", err)
	}
	row := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("COALESCE(SUM(reward), 0), COALESCE(SUM(claimed), 0)").
		Row()
	if err := row.Scan(&stats.TotalRewards, &stats.TotalClaimed); err != nil {
		return nil, fmt.Errorf("failed to sum rewards: %w", err)
	}
	return &stats, nil
}

// AllUsers returns every user, oldest first, for export and broadcast.
func (s *Store) AllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetAdmin returns the admin record for id, or (nil, nil) if the user is not
// an administrator.
func (s *Store) GetAdmin(ctx context.Context, id int64) (*models.Admin, error) {
	var admin models.Admin
	err := s.db.WithContext(ctx).Where("telegram_id = ?", id).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin %d: %w", id, err)
	}
	return &admin, nil
}
