package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// InsertReviewTx enforces one review per reviewer per mission through the
// unique index; a duplicate reports false.
func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO reviews(id,mission_id,reviewer_id,reviewed_user_id,rating,comment,tags_json,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		rv.ID, rv.MissionID, rv.ReviewerID, rv.ReviewedUserID, rv.Rating, nullable(rv.Comment), nullable(rv.TagsJSON), rv.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListReviewsFor(ctx context.Context, reviewedUserID string, limit int) ([]domain.Review, error) {
	query := `SELECT id,mission_id,reviewer_id,reviewed_user_id,rating,comment,tags_json,created_at
FROM reviews WHERE reviewed_user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{reviewedUserID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

func (r Repo) ListReviewsForMission(ctx context.Context, missionID string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,mission_id,reviewer_id,reviewed_user_id,rating,comment,tags_json,created_at
FROM reviews WHERE mission_id=? ORDER BY created_at ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// RatingAggregateTx recomputes a subject's rating count and sum from the
// reviews table. Recomputing from rows keeps the stored average exact and
// independent of insertion order.
func (r Repo) RatingAggregateTx(ctx context.Context, tx *sql.Tx, reviewedUserID string) (count int, sum int64, err error) {
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(rating),0) FROM reviews WHERE reviewed_user_id=?`, reviewedUserID)
	err = row.Scan(&count, &sum)
	return count, sum, err
}

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var rv domain.Review
	var comment, tags sql.NullString
	err := scan(&rv.ID, &rv.MissionID, &rv.ReviewerID, &rv.ReviewedUserID, &rv.Rating, &comment, &tags, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	if comment.Valid {
		rv.Comment = comment.String
	}
	if tags.Valid {
		rv.TagsJSON = tags.String
	}
	return rv, nil
}

// GetProfile returns the stored aggregate row, or a zeroed profile when the
// subject has no activity yet.
func (r Repo) GetProfile(ctx context.Context, subjectID string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT subject_id,rating_avg,rating_count,completed_count,earnings,updated_at FROM profiles WHERE subject_id=?`, subjectID)
	p, err := scanProfile(row.Scan)
	if err == ErrNotFound {
		return domain.Profile{SubjectID: subjectID, RatingAvg: "0", Earnings: "0"}, nil
	}
	return p, err
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, subjectID string) (domain.Profile, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT subject_id,rating_avg,rating_count,completed_count,earnings,updated_at FROM profiles WHERE subject_id=?`, subjectID)
	p, err := scanProfile(row.Scan)
	if err == ErrNotFound {
		return domain.Profile{SubjectID: subjectID, RatingAvg: "0", Earnings: "0"}, nil
	}
	return p, err
}

// UpsertProfileTx writes the whole aggregate row. Callers fold new facts
// into the profile inside the same transaction that produced them.
func (r Repo) UpsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO profiles(subject_id,rating_avg,rating_count,completed_count,earnings,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(subject_id) DO UPDATE SET rating_avg=excluded.rating_avg, rating_count=excluded.rating_count,
completed_count=excluded.completed_count, earnings=excluded.earnings, updated_at=excluded.updated_at`,
		p.SubjectID, p.RatingAvg, p.RatingCount, p.CompletedCount, p.Earnings, p.UpdatedAt)
	return err
}

func scanProfile(scan func(dest ...any) error) (domain.Profile, error) {
	var p domain.Profile
	err := scan(&p.SubjectID, &p.RatingAvg, &p.RatingCount, &p.CompletedCount, &p.Earnings, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}
