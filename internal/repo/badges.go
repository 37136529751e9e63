package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// UpsertBadge seeds or refreshes a badge definition from config.
func (r Repo) UpsertBadge(ctx context.Context, b domain.Badge) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO badges(id,name,description,requirement_type,requirement_value,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
requirement_type=excluded.requirement_type, requirement_value=excluded.requirement_value`,
		b.ID, b.Name, nullable(b.Description), b.RequirementType, b.RequirementValue, b.CreatedAt)
	return err
}

func (r Repo) ListBadges(ctx context.Context) ([]domain.Badge, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,description,requirement_type,requirement_value,created_at FROM badges ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBadges(rows)
}

func (r Repo) ListBadgesTx(ctx context.Context, tx *sql.Tx) ([]domain.Badge, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id,name,description,requirement_type,requirement_value,created_at FROM badges ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBadges(rows)
}

func collectBadges(rows *sql.Rows) ([]domain.Badge, error) {
	var res []domain.Badge
	for rows.Next() {
		var b domain.Badge
		var description sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &description, &b.RequirementType, &b.RequirementValue, &b.CreatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			b.Description = description.String
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// InsertAchievementTx grants a badge once per user; a repeat grant inserts
// nothing and reports false.
func (r Repo) InsertAchievementTx(ctx context.Context, tx *sql.Tx, a domain.Achievement) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_achievements(id,user_id,badge_id,unlocked_at) VALUES (?,?,?,?)`,
		a.ID, a.UserID, a.BadgeID, a.UnlockedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListAchievements(ctx context.Context, userID string) ([]domain.Achievement, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,badge_id,unlocked_at FROM user_achievements WHERE user_id=? ORDER BY unlocked_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Achievement
	for rows.Next() {
		var a domain.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.BadgeID, &a.UnlockedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
