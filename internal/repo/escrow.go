package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

func (r Repo) InsertEscrowTx(ctx context.Context, tx *sql.Tx, e domain.EscrowRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_records(mission_id,amount,status,auto_release_at,updated_at) VALUES (?,?,?,?,?)`,
		e.MissionID, e.Amount, e.Status, nullableStringPtr(e.AutoReleaseAt), e.UpdatedAt)
	return err
}

func (r Repo) GetEscrow(ctx context.Context, missionID string) (domain.EscrowRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT mission_id,amount,status,auto_release_at,updated_at FROM escrow_records WHERE mission_id=?`, missionID)
	return scanEscrow(row.Scan)
}

func (r Repo) GetEscrowTx(ctx context.Context, tx *sql.Tx, missionID string) (domain.EscrowRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT mission_id,amount,status,auto_release_at,updated_at FROM escrow_records WHERE mission_id=?`, missionID)
	return scanEscrow(row.Scan)
}

// CompareAndSwapEscrowStatus guards escrow transitions the same way
// mission transitions are guarded.
func (r Repo) CompareAndSwapEscrowStatus(ctx context.Context, tx *sql.Tx, missionID, fromStatus string, e domain.EscrowRecord) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE escrow_records SET status=?, auto_release_at=?, updated_at=? WHERE mission_id=? AND status=?`,
		e.Status, nullableStringPtr(e.AutoReleaseAt), e.UpdatedAt, missionID, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanEscrow(scan func(dest ...any) error) (domain.EscrowRecord, error) {
	var e domain.EscrowRecord
	var releaseAt sql.NullString
	err := scan(&e.MissionID, &e.Amount, &e.Status, &releaseAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if releaseAt.Valid {
		e.AutoReleaseAt = &releaseAt.String
	}
	return e, nil
}

func (r Repo) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions(id,user_id,mission_id,amount,type,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.UserID, nullable(t.MissionID), t.Amount, t.Type, t.Status, t.CreatedAt)
	return err
}

func (r Repo) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT id,user_id,mission_id,amount,type,status,created_at FROM transactions WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var missionID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &missionID, &t.Amount, &t.Type, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		if missionID.Valid {
			t.MissionID = missionID.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
