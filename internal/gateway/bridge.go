package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// Bridge verifies completed checkouts against the payment processor and
// records them exactly once. The unique payment-intent column is the only
// synchronization against duplicate processing.
type Bridge struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Provider Provider
	Now      func() time.Time
}

func NewBridge(db *sql.DB, cfg *config.Config, provider Provider) Bridge {
	return Bridge{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Provider: provider,
		Now:      time.Now,
	}
}

func (b Bridge) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// VerifyResult is the outcome of a checkout verification. Replays of the
// same session return the stored records with AlreadyProcessed set.
type VerifyResult struct {
	Purchase         domain.Purchase `json:"purchase"`
	Boost            *domain.Boost   `json:"boost,omitempty"`
	AlreadyProcessed bool            `json:"already_processed"`
}

// VerifyCheckout retrieves the session from the processor, rejects
// anything not paid, and idempotently records the purchase. When the
// product carries a boost duration the boost is created in the same
// transaction as the purchase; a paid-but-unactivated state cannot
// persist.
func (b Bridge) VerifyCheckout(ctx context.Context, sessionRef, userID string) (VerifyResult, error) {
	if sessionRef == "" {
		return VerifyResult{}, engine.ValidationError{Message: "session reference is required"}
	}
	session, err := b.Provider.RetrieveSession(ctx, sessionRef)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", engine.ErrPaymentGateway, err)
	}
	if session.PaymentStatus != "paid" {
		return VerifyResult{}, fmt.Errorf("%w: session %s is %q", engine.ErrPaymentNotCompleted, sessionRef, session.PaymentStatus)
	}
	if session.PaymentIntentID == "" {
		return VerifyResult{}, fmt.Errorf("%w: session %s carries no payment intent", engine.ErrPaymentNotCompleted, sessionRef)
	}
	productID := session.Metadata["product_id"]
	if productID == "" {
		return VerifyResult{}, engine.ValidationError{Message: "session metadata carries no product_id"}
	}
	product, ok := b.Config.Products[productID]
	if !ok {
		return VerifyResult{}, engine.ValidationError{Message: fmt.Sprintf("unknown product %q", productID)}
	}
	// The processor reports minor units; the ledger stores decimal major
	// units.
	amount := decimal.New(session.AmountTotal, -2).String()

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return VerifyResult{}, err
	}
	defer tx.Rollback()

	now := b.now().UTC()
	ts := now.Format(time.RFC3339)
	p := domain.Purchase{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProductID:       productID,
		PaymentIntentID: session.PaymentIntentID,
		Amount:          amount,
		Currency:        session.Currency,
		Status:          "completed",
		MetadataJSON:    string(metadata),
		CreatedAt:       ts,
	}
	inserted, err := b.Repo.InsertPurchaseTx(ctx, tx, p)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("insert purchase: %w", err)
	}
	if !inserted {
		// A concurrent or earlier call won the insert. Return its records
		// untouched.
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return VerifyResult{}, err
		}
		existing, err := b.Repo.GetPurchaseByIntent(ctx, session.PaymentIntentID)
		if err != nil {
			return VerifyResult{}, err
		}
		boost, err := b.boostForPurchase(ctx, existing.ID)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Purchase: existing, Boost: boost, AlreadyProcessed: true}, nil
	}

	var boost *domain.Boost
	if product.BoostDuration.Std() > 0 {
		bst := domain.Boost{
			ID:          uuid.NewString(),
			UserID:      userID,
			ProductID:   productID,
			PurchaseID:  p.ID,
			ActivatedAt: ts,
			ExpiresAt:   now.Add(product.BoostDuration.Std()).Format(time.RFC3339),
			IsActive:    true,
		}
		if err := b.Repo.InsertBoostTx(ctx, tx, bst); err != nil {
			return VerifyResult{}, fmt.Errorf("insert boost: %w", err)
		}
		boost = &bst
		if err := b.Events.Append(ctx, tx, events.BoostActivated, userID, "boost", bst.ID, userID,
			events.EventPayload{"product_id": productID, "expires_at": bst.ExpiresAt}); err != nil {
			return VerifyResult{}, err
		}
	}
	if err := b.Events.Append(ctx, tx, events.PurchaseRecorded, userID, "purchase", p.ID, userID,
		events.EventPayload{"product_id": productID, "amount": amount, "currency": session.Currency}); err != nil {
		return VerifyResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Purchase: p, Boost: boost}, nil
}

func (b Bridge) boostForPurchase(ctx context.Context, purchaseID string) (*domain.Boost, error) {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT id,user_id,product_id,purchase_id,activated_at,expires_at,is_active FROM active_boosts WHERE purchase_id=?`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var bst domain.Boost
		var active int
		if err := rows.Scan(&bst.ID, &bst.UserID, &bst.ProductID, &bst.PurchaseID, &bst.ActivatedAt, &bst.ExpiresAt, &active); err != nil {
			return nil, err
		}
		bst.IsActive = active == 1
		return &bst, rows.Err()
	}
	return nil, rows.Err()
}
