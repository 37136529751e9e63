package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/domain"
	"gigline/internal/events"
)

// ReviewCreateOptions are parameters for leaving a review.
type ReviewCreateOptions struct {
	MissionID  string
	ReviewerID string
	Rating     int
	Comment    string
	Tags       []string
}

// AddReview inserts a review and folds it into the subject's stored
// aggregate in the same transaction. Each mission party reviews the other
// party at most once; re-reviewing conflicts.
func (e Engine) AddReview(ctx context.Context, opts ReviewCreateOptions) (domain.Review, error) {
	if opts.Rating < 1 || opts.Rating > 5 {
		return domain.Review{}, validationf("rating must be between 1 and 5")
	}
	m, err := e.Repo.GetMission(ctx, opts.MissionID)
	if err != nil {
		return domain.Review{}, err
	}
	if m.Status != domain.MissionCompleted {
		return domain.Review{}, validationf("mission %s is %s; reviews require a completed mission", m.ID, m.Status)
	}
	if !isMissionParty(m, opts.ReviewerID) {
		return domain.Review{}, fmt.Errorf("%w: only mission parties leave reviews", ErrNotAuthorized)
	}
	// The reviewed subject is always the other party.
	reviewed := m.OwnerID
	if opts.ReviewerID == m.OwnerID {
		reviewed = *m.RunnerID
	}

	var tagsJSON string
	if len(opts.Tags) > 0 {
		data, err := json.Marshal(opts.Tags)
		if err != nil {
			return domain.Review{}, fmt.Errorf("marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	ts := e.nowRFC3339()
	rv := domain.Review{
		ID:             uuid.NewString(),
		MissionID:      opts.MissionID,
		ReviewerID:     opts.ReviewerID,
		ReviewedUserID: reviewed,
		Rating:         opts.Rating,
		Comment:        opts.Comment,
		TagsJSON:       tagsJSON,
		CreatedAt:      ts,
	}
	inserted, err := e.Repo.InsertReviewTx(ctx, tx, rv)
	if err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if !inserted {
		return domain.Review{}, fmt.Errorf("%w: mission %s already reviewed by %s", ErrStaleTransition, opts.MissionID, opts.ReviewerID)
	}

	profile, err := e.Repo.GetProfileTx(ctx, tx, reviewed)
	if err != nil {
		return domain.Review{}, err
	}
	// Recompute the aggregate from the rows just written. This keeps the
	// stored average exactly sum/count regardless of insertion order,
	// where the incremental fold would accumulate rounding drift.
	count, sum, err := e.Repo.RatingAggregateTx(ctx, tx, reviewed)
	if err != nil {
		return domain.Review{}, err
	}
	avg := decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(int64(count)), 4)
	profile.RatingAvg = avg.String()
	profile.RatingCount = count
	profile.UpdatedAt = ts
	if err := e.Repo.UpsertProfileTx(ctx, tx, profile); err != nil {
		return domain.Review{}, fmt.Errorf("upsert profile: %w", err)
	}

	if err := e.Events.Append(ctx, tx, events.ReviewCreated, reviewed, "review", rv.ID, opts.ReviewerID,
		events.EventPayload{"mission_id": m.ID, "rating": opts.Rating}); err != nil {
		return domain.Review{}, err
	}
	if err := e.evaluateAchievementsTx(ctx, tx, reviewed, profile, opts.ReviewerID); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

func (e Engine) ListReviewsFor(ctx context.Context, subjectID string, limit int) ([]domain.Review, error) {
	return e.Repo.ListReviewsFor(ctx, subjectID, limit)
}

func (e Engine) GetProfile(ctx context.Context, subjectID string) (domain.Profile, error) {
	return e.Repo.GetProfile(ctx, subjectID)
}
