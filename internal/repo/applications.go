package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// InsertApplication is idempotent per (mission, applicant); a repeat apply
// leaves the original row in place and reports false.
func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO applications(id,mission_id,applicant_id,message,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.MissionID, a.ApplicantID, nullable(a.Message), a.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteApplicationTx(ctx context.Context, tx *sql.Tx, missionID, applicantID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE mission_id=? AND applicant_id=?`, missionID, applicantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, missionID, applicantID string) (domain.Application, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id,mission_id,applicant_id,message,created_at FROM applications WHERE mission_id=? AND applicant_id=?`,
		missionID, applicantID)
	return scanApplication(row.Scan)
}

func (r Repo) ListApplications(ctx context.Context, missionID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,mission_id,applicant_id,message,created_at FROM applications WHERE mission_id=? ORDER BY created_at ASC, id ASC`,
		missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanApplication(scan func(dest ...any) error) (domain.Application, error) {
	var a domain.Application
	var message sql.NullString
	err := scan(&a.ID, &a.MissionID, &a.ApplicantID, &message, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if message.Valid {
		a.Message = message.String
	}
	return a, nil
}
