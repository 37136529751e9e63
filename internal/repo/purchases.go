package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// InsertPurchaseTx records a verified checkout. The payment intent ID is
// unique, so replaying the same checkout session inserts nothing and
// reports false.
func (r Repo) InsertPurchaseTx(ctx context.Context, tx *sql.Tx, p domain.Purchase) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO purchases(id,user_id,product_id,stripe_payment_intent_id,amount,currency,status,metadata_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.ProductID, p.PaymentIntentID, p.Amount, p.Currency, p.Status, nullable(p.MetadataJSON), p.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetPurchaseByIntent(ctx context.Context, paymentIntentID string) (domain.Purchase, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,product_id,stripe_payment_intent_id,amount,currency,status,metadata_json,created_at
FROM purchases WHERE stripe_payment_intent_id=?`, paymentIntentID)
	return scanPurchase(row.Scan)
}

func (r Repo) ListPurchases(ctx context.Context, userID string) ([]domain.Purchase, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,product_id,stripe_payment_intent_id,amount,currency,status,metadata_json,created_at
FROM purchases WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanPurchase(scan func(dest ...any) error) (domain.Purchase, error) {
	var p domain.Purchase
	var metadata sql.NullString
	err := scan(&p.ID, &p.UserID, &p.ProductID, &p.PaymentIntentID, &p.Amount, &p.Currency, &p.Status, &metadata, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if metadata.Valid {
		p.MetadataJSON = metadata.String
	}
	return p, nil
}

func (r Repo) InsertBoostTx(ctx context.Context, tx *sql.Tx, b domain.Boost) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO active_boosts(id,user_id,product_id,purchase_id,activated_at,expires_at,is_active) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.UserID, b.ProductID, b.PurchaseID, b.ActivatedAt, b.ExpiresAt, boolToInt(b.IsActive))
	return err
}

// ActiveBoosts returns boosts for the user that have not expired as of now.
func (r Repo) ActiveBoosts(ctx context.Context, userID, now string) ([]domain.Boost, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,product_id,purchase_id,activated_at,expires_at,is_active FROM active_boosts
WHERE user_id=? AND is_active=1 AND expires_at > ? ORDER BY expires_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Boost
	for rows.Next() {
		var b domain.Boost
		var active int
		if err := rows.Scan(&b.ID, &b.UserID, &b.ProductID, &b.PurchaseID, &b.ActivatedAt, &b.ExpiresAt, &active); err != nil {
			return nil, err
		}
		b.IsActive = active == 1
		res = append(res, b)
	}
	return res, rows.Err()
}

// DeactivateExpiredBoosts flips the active flag on boosts past their
// expiry. Returns the number of rows changed.
func (r Repo) DeactivateExpiredBoosts(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE active_boosts SET is_active=0 WHERE is_active=1 AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
