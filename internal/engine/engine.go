package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// MissionCreateOptions are parameters for posting a mission.
type MissionCreateOptions struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Price       string
	Currency    string
}

// CreateMission posts a mission and reserves its escrow in one
// transaction. The escrow amount is fixed to the mission price at
// reservation time and never changes afterwards.
func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.Mission, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Mission{}, validationf("title is required")
	}
	if opts.OwnerID == "" {
		return domain.Mission{}, validationf("owner_id is required")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(opts.Price))
	if err != nil {
		return domain.Mission{}, validationf("price %q is not a decimal amount", opts.Price)
	}
	if !price.IsPositive() {
		return domain.Mission{}, validationf("price must be positive")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Currency == "" {
		opts.Currency = e.Config.Platform.Currency
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	ts := e.nowRFC3339()
	m := domain.Mission{
		ID:          opts.ID,
		OwnerID:     opts.OwnerID,
		Title:       strings.TrimSpace(opts.Title),
		Description: strings.TrimSpace(opts.Description),
		Price:       price.String(),
		Currency:    opts.Currency,
		Status:      domain.MissionOpen,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	esc := domain.EscrowRecord{
		MissionID: m.ID,
		Amount:    m.Price,
		Status:    domain.EscrowReserved,
		UpdatedAt: ts,
	}
	if err := e.Repo.InsertEscrowTx(ctx, tx, esc); err != nil {
		return domain.Mission{}, fmt.Errorf("insert escrow: %w", err)
	}
	t := domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    m.OwnerID,
		MissionID: m.ID,
		Amount:    m.Price,
		Type:      domain.TxDebit,
		Status:    domain.TxEscrowReserve,
		CreatedAt: ts,
	}
	if err := e.Repo.InsertTransactionTx(ctx, tx, t); err != nil {
		return domain.Mission{}, fmt.Errorf("insert transaction: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.MissionCreated, m.OwnerID, "mission", m.ID, m.OwnerID,
		events.EventPayload{"price": m.Price, "currency": m.Currency}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// Apply registers interest in an open mission. Applying twice is a no-op
// returning the stored application.
func (e Engine) Apply(ctx context.Context, missionID, applicantID, message string) (domain.Application, error) {
	if applicantID == "" {
		return domain.Application{}, validationf("applicant_id is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	// Guard inside the transaction so an assignment or cancellation cannot
	// land between the check and the insert.
	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Application{}, err
	}
	if m.Status != domain.MissionOpen {
		return domain.Application{}, fmt.Errorf("%w: mission %s is %s, not open", ErrStaleTransition, missionID, m.Status)
	}
	if m.OwnerID == applicantID {
		return domain.Application{}, fmt.Errorf("%w: owner cannot apply to own mission", ErrNotAuthorized)
	}

	a := domain.Application{
		ID:          uuid.NewString(),
		MissionID:   missionID,
		ApplicantID: applicantID,
		Message:     strings.TrimSpace(message),
		CreatedAt:   e.nowRFC3339(),
	}
	inserted, err := e.Repo.InsertApplication(ctx, tx, a)
	if err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	if !inserted {
		existing, err := e.Repo.GetApplicationTx(ctx, tx, missionID, applicantID)
		if err != nil {
			return domain.Application{}, err
		}
		return existing, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// WithdrawApplication removes an applicant's pending application. Only the
// applicant may withdraw, and only while the mission is still open.
func (e Engine) WithdrawApplication(ctx context.Context, missionID, applicantID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return err
	}
	if m.Status != domain.MissionOpen {
		return fmt.Errorf("%w: mission %s is %s, not open", ErrStaleTransition, missionID, m.Status)
	}
	removed, err := e.Repo.DeleteApplicationTx(ctx, tx, missionID, applicantID)
	if err != nil {
		return err
	}
	if !removed {
		return repo.ErrNotFound
	}
	return tx.Commit()
}

// Assign selects an applicant as the mission runner. Exactly one of any
// set of concurrent assignment attempts wins; the rest observe
// ErrStaleTransition.
func (e Engine) Assign(ctx context.Context, missionID, runnerID, actorID string, role domain.Role) (domain.Mission, error) {
	if runnerID == "" {
		return domain.Mission{}, validationf("runner_id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if actorID != m.OwnerID && role != domain.RoleAdmin {
		return domain.Mission{}, fmt.Errorf("%w: only the mission owner assigns a runner", ErrNotAuthorized)
	}
	if runnerID == m.OwnerID {
		return domain.Mission{}, validationf("owner cannot be the runner")
	}
	if err := ensureMissionTransition(m.Status, domain.MissionAssigned); err != nil {
		return domain.Mission{}, err
	}
	if _, err := e.Repo.GetApplicationTx(ctx, tx, missionID, runnerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Mission{}, validationf("runner %s has not applied to mission %s", runnerID, missionID)
		}
		return domain.Mission{}, err
	}

	ts := e.nowRFC3339()
	updated := m
	updated.RunnerID = &runnerID
	updated.Status = domain.MissionAssigned
	updated.UpdatedAt = ts
	ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, domain.MissionOpen, updated)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	esc, err := e.Repo.GetEscrowTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	esc.Status = domain.EscrowHeld
	esc.UpdatedAt = ts
	ok, err = e.Repo.CompareAndSwapEscrowStatus(ctx, tx, missionID, domain.EscrowReserved, esc)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: escrow for mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	if err := e.Events.Append(ctx, tx, events.MissionAssigned, runnerID, "mission", m.ID, actorID,
		events.EventPayload{"runner_id": runnerID}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// Cancel withdraws an open mission and refunds its reserved escrow. Only
// the owner (or an admin) may cancel, and only before assignment.
func (e Engine) Cancel(ctx context.Context, missionID, actorID string, role domain.Role) (domain.Mission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if actorID != m.OwnerID && role != domain.RoleAdmin {
		return domain.Mission{}, fmt.Errorf("%w: only the mission owner cancels", ErrNotAuthorized)
	}
	if err := ensureMissionTransition(m.Status, domain.MissionCancelled); err != nil {
		return domain.Mission{}, err
	}

	ts := e.nowRFC3339()
	updated := m
	updated.Status = domain.MissionCancelled
	updated.UpdatedAt = ts
	ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, m.Status, updated)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	if err := e.refundEscrowTx(ctx, tx, updated, domain.EscrowReserved, ts); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, events.MissionCancelled, m.OwnerID, "mission", m.ID, actorID, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// Dispute freezes a mission pending manual resolution. Auto-release stops
// until an admin resolves the dispute.
func (e Engine) Dispute(ctx context.Context, missionID, actorID string, role domain.Role) (domain.Mission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if !isMissionParty(m, actorID) && role != domain.RoleAdmin {
		return domain.Mission{}, fmt.Errorf("%w: only a mission party raises a dispute", ErrNotAuthorized)
	}
	if err := ensureMissionTransition(m.Status, domain.MissionDisputed); err != nil {
		return domain.Mission{}, err
	}

	ts := e.nowRFC3339()
	updated := m
	updated.Status = domain.MissionDisputed
	updated.UpdatedAt = ts
	ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, m.Status, updated)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	esc, err := e.Repo.GetEscrowTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	escFrom := esc.Status
	esc.Status = domain.EscrowDisputed
	esc.AutoReleaseAt = nil
	esc.UpdatedAt = ts
	ok, err = e.Repo.CompareAndSwapEscrowStatus(ctx, tx, missionID, escFrom, esc)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: escrow for mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	if err := e.Events.Append(ctx, tx, events.MissionDisputed, m.OwnerID, "mission", m.ID, actorID, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// ResolveDispute settles a disputed mission either as completed (funds go
// to the runner) or cancelled (funds refund to the owner). Admin only.
func (e Engine) ResolveDispute(ctx context.Context, missionID, outcome, actorID string, role domain.Role) (domain.Mission, error) {
	if role != domain.RoleAdmin {
		return domain.Mission{}, fmt.Errorf("%w: dispute resolution is admin only", ErrNotAuthorized)
	}
	if outcome != domain.MissionCompleted && outcome != domain.MissionCancelled {
		return domain.Mission{}, validationf("outcome must be %q or %q", domain.MissionCompleted, domain.MissionCancelled)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.Status != domain.MissionDisputed {
		return domain.Mission{}, fmt.Errorf("%w: mission %s is %s, not disputed", ErrStaleTransition, missionID, m.Status)
	}

	ts := e.nowRFC3339()
	var updated domain.Mission
	if outcome == domain.MissionCompleted {
		updated, err = e.completeMissionTx(ctx, tx, m, domain.EscrowDisputed, actorID, false)
		if err != nil {
			return domain.Mission{}, err
		}
	} else {
		updated = m
		updated.Status = domain.MissionCancelled
		// A cancelled mission has no runner, whatever path led there.
		updated.RunnerID = nil
		updated.UpdatedAt = ts
		ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, domain.MissionDisputed, updated)
		if err != nil {
			return domain.Mission{}, err
		}
		if !ok {
			return domain.Mission{}, fmt.Errorf("%w: mission %s changed concurrently", ErrStaleTransition, missionID)
		}
		if err := e.refundEscrowTx(ctx, tx, updated, domain.EscrowDisputed, ts); err != nil {
			return domain.Mission{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.MissionResolved, m.OwnerID, "mission", m.ID, actorID,
		events.EventPayload{"outcome": outcome}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// refundEscrowTx moves escrow from the given status to refunded and writes
// the owner-facing refund ledger entry.
func (e Engine) refundEscrowTx(ctx context.Context, tx *sql.Tx, m domain.Mission, fromStatus, ts string) error {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, m.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	esc.Status = domain.EscrowRefunded
	esc.AutoReleaseAt = nil
	esc.UpdatedAt = ts
	ok, err := e.Repo.CompareAndSwapEscrowStatus(ctx, tx, m.ID, fromStatus, esc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: escrow for mission %s changed concurrently", ErrStaleTransition, m.ID)
	}
	t := domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    m.OwnerID,
		MissionID: m.ID,
		Amount:    esc.Amount,
		Type:      domain.TxCredit,
		Status:    domain.TxRefund,
		CreatedAt: ts,
	}
	return e.Repo.InsertTransactionTx(ctx, tx, t)
}

func (e Engine) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return e.Repo.GetMission(ctx, id)
}

func (e Engine) GetEscrow(ctx context.Context, missionID string) (domain.EscrowRecord, error) {
	return e.Repo.GetEscrow(ctx, missionID)
}

func (e Engine) ListApplications(ctx context.Context, missionID string) ([]domain.Application, error) {
	return e.Repo.ListApplications(ctx, missionID)
}

// DiscoverMissions serves the public mission feed. When the store is
// unreachable the configured sample missions are returned tagged as
// degraded so the caller can surface demo mode; the degradation never
// becomes ambient state.
func (e Engine) DiscoverMissions(ctx context.Context, f repo.MissionFilters) ([]domain.Mission, domain.DataSource, error) {
	missions, err := e.Repo.ListMissions(ctx, f)
	if err != nil {
		samples := e.sampleMissions()
		if len(samples) == 0 {
			return nil, domain.LiveSource(), err
		}
		return samples, domain.DegradedSource(err.Error()), nil
	}
	return missions, domain.LiveSource(), nil
}

func (e Engine) sampleMissions() []domain.Mission {
	if e.Config == nil {
		return nil
	}
	ts := e.nowRFC3339()
	var res []domain.Mission
	for _, s := range e.Config.Discovery.Samples {
		currency := s.Currency
		if currency == "" {
			currency = e.Config.Platform.Currency
		}
		owner := s.OwnerID
		if owner == "" {
			owner = "sample"
		}
		res = append(res, domain.Mission{
			ID:        s.ID,
			OwnerID:   owner,
			Title:     s.Title,
			Price:     s.Price,
			Currency:  currency,
			Status:    domain.MissionOpen,
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return res
}

func ensureMissionTransition(oldStatus, newStatus string) error {
	allowed := false
	switch oldStatus {
	case domain.MissionOpen:
		allowed = newStatus == domain.MissionAssigned || newStatus == domain.MissionCancelled
	case domain.MissionAssigned:
		allowed = newStatus == domain.MissionPendingCompletion || newStatus == domain.MissionDisputed
	case domain.MissionPendingCompletion:
		allowed = newStatus == domain.MissionCompleted || newStatus == domain.MissionDisputed
	case domain.MissionDisputed:
		allowed = newStatus == domain.MissionCompleted || newStatus == domain.MissionCancelled
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, oldStatus, newStatus)
	}
	return nil
}

func isMissionParty(m domain.Mission, actorID string) bool {
	if actorID == m.OwnerID {
		return true
	}
	return m.RunnerID != nil && *m.RunnerID == actorID
}
