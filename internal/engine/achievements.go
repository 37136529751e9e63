package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/domain"
	"gigline/internal/events"
)

// SeedBadges writes the configured badge catalog into the store. Safe to
// run at every startup; existing badges are refreshed in place.
func (e Engine) SeedBadges(ctx context.Context) error {
	if e.Config == nil {
		return nil
	}
	ts := e.nowRFC3339()
	for id, def := range e.Config.Badges {
		b := domain.Badge{
			ID:               id,
			Name:             def.Name,
			Description:      def.Description,
			RequirementType:  def.RequirementType,
			RequirementValue: def.RequirementValue,
			CreatedAt:        ts,
		}
		if err := e.Repo.UpsertBadge(ctx, b); err != nil {
			return fmt.Errorf("seed badge %s: %w", id, err)
		}
	}
	return nil
}

// evaluateAchievementsTx checks every badge the subject has not unlocked
// against the aggregate just written, inside the caller's transaction. The
// uniqueness constraint on (user, badge) is the only concurrency guard:
// a duplicate grant inserts nothing and is silently skipped.
func (e Engine) evaluateAchievementsTx(ctx context.Context, tx *sql.Tx, userID string, profile domain.Profile, actorID string) error {
	badges, err := e.Repo.ListBadgesTx(ctx, tx)
	if err != nil {
		return err
	}
	ts := e.nowRFC3339()
	for _, b := range badges {
		satisfied, err := requirementSatisfied(b, profile)
		if err != nil {
			return fmt.Errorf("badge %s: %w", b.ID, err)
		}
		if !satisfied {
			continue
		}
		granted, err := e.Repo.InsertAchievementTx(ctx, tx, domain.Achievement{
			ID:         uuid.NewString(),
			UserID:     userID,
			BadgeID:    b.ID,
			UnlockedAt: ts,
		})
		if err != nil {
			return fmt.Errorf("grant badge %s: %w", b.ID, err)
		}
		if !granted {
			continue
		}
		if err := e.Events.Append(ctx, tx, events.BadgeUnlocked, userID, "badge", b.ID, actorID,
			events.EventPayload{"badge_id": b.ID, "name": b.Name}); err != nil {
			return err
		}
	}
	return nil
}

func requirementSatisfied(b domain.Badge, p domain.Profile) (bool, error) {
	switch b.RequirementType {
	case domain.RequirementMissionCount:
		threshold, err := decimal.NewFromString(b.RequirementValue)
		if err != nil {
			return false, fmt.Errorf("requirement value %q: %w", b.RequirementValue, err)
		}
		return decimal.NewFromInt(int64(p.CompletedCount)).GreaterThanOrEqual(threshold), nil
	case domain.RequirementEarnings:
		threshold, err := decimal.NewFromString(b.RequirementValue)
		if err != nil {
			return false, fmt.Errorf("requirement value %q: %w", b.RequirementValue, err)
		}
		earnings, err := decimal.NewFromString(p.Earnings)
		if err != nil {
			return false, fmt.Errorf("earnings %q: %w", p.Earnings, err)
		}
		return earnings.GreaterThanOrEqual(threshold), nil
	case domain.RequirementMinRating:
		threshold, err := decimal.NewFromString(b.RequirementValue)
		if err != nil {
			return false, fmt.Errorf("requirement value %q: %w", b.RequirementValue, err)
		}
		if p.RatingCount == 0 {
			return false, nil
		}
		avg, err := decimal.NewFromString(p.RatingAvg)
		if err != nil {
			return false, fmt.Errorf("rating_avg %q: %w", p.RatingAvg, err)
		}
		return avg.GreaterThanOrEqual(threshold), nil
	default:
		return false, fmt.Errorf("unknown requirement type %q", b.RequirementType)
	}
}

// EvaluateAchievements re-runs badge evaluation for one subject outside
// any aggregate mutation, for admin backfills.
func (e Engine) EvaluateAchievements(ctx context.Context, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	profile, err := e.Repo.GetProfileTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if err := e.evaluateAchievementsTx(ctx, tx, userID, profile, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListBadges(ctx context.Context) ([]domain.Badge, error) {
	return e.Repo.ListBadges(ctx)
}

func (e Engine) ListAchievements(ctx context.Context, userID string) ([]domain.Achievement, error) {
	return e.Repo.ListAchievements(ctx, userID)
}
