package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigline/internal/domain"
	"gigline/internal/events"
)

// SubmitProof records the runner's completion evidence and moves the
// mission into pending completion. The auto-release clock starts here.
func (e Engine) SubmitProof(ctx context.Context, missionID, actorID string, evidence []string, notes string) (domain.Mission, error) {
	if len(evidence) == 0 {
		return domain.Mission{}, validationf("at least one evidence item is required")
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return domain.Mission{}, fmt.Errorf("marshal evidence: %w", err)
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
	if m.RunnerID == nil || *m.RunnerID != actorID {
		return domain.Mission{}, fmt.Errorf("%w: only the assigned runner submits proof", ErrNotAuthorized)
	}
	if err := ensureMissionTransition(m.Status, domain.MissionPendingCompletion); err != nil {
		return domain.Mission{}, err
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	deadline := now.Add(e.autoReleaseWindow()).Format(time.RFC3339)

	updated := m
	updated.Status = domain.MissionPendingCompletion
	updated.UpdatedAt = ts
	ev := string(evidenceJSON)
	updated.EvidenceJSON = &ev
	if notes != "" {
		updated.ProofNotes = &notes
	}
	ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, domain.MissionAssigned, updated)
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
	esc.Status = domain.EscrowPendingRelease
	esc.AutoReleaseAt = &deadline
	esc.UpdatedAt = ts
	ok, err = e.Repo.CompareAndSwapEscrowStatus(ctx, tx, missionID, domain.EscrowHeld, esc)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: escrow for mission %s changed concurrently", ErrStaleTransition, missionID)
	}
	if err := e.Events.Append(ctx, tx, events.ProofSubmitted, actorID, "mission", m.ID, actorID,
		events.EventPayload{"auto_release_at": deadline, "evidence_count": len(evidence)}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// Approve is the owner's explicit acceptance of submitted proof. It
// short-circuits the auto-release deadline.
func (e Engine) Approve(ctx context.Context, missionID, actorID string, role domain.Role) (domain.Mission, error) {
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
		return domain.Mission{}, fmt.Errorf("%w: only the mission owner approves completion", ErrNotAuthorized)
	}
	if m.Status != domain.MissionPendingCompletion {
		return domain.Mission{}, fmt.Errorf("%w: mission %s is %s, not pending_completion", ErrStaleTransition, missionID, m.Status)
	}
	updated, err := e.completeMissionTx(ctx, tx, m, domain.EscrowPendingRelease, actorID, false)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

// ReleaseOverdue is the auto-release sweep. It completes every mission
// whose escrow deadline has elapsed without owner action. Re-running the
// sweep over an already-completed mission is a no-op, so missed cycles
// self-heal on the next run.
func (e Engine) ReleaseOverdue(ctx context.Context, limit int) (int, error) {
	now := e.nowRFC3339()
	overdue, err := e.Repo.OverdueMissions(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, m := range overdue {
		if err := e.releaseOne(ctx, m); err != nil {
			if isStale(err) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (e Engine) releaseOne(ctx context.Context, m domain.Mission) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetMissionTx(ctx, tx, m.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.MissionPendingCompletion {
		return fmt.Errorf("%w: mission %s is %s", ErrStaleTransition, m.ID, current.Status)
	}
	if _, err := e.completeMissionTx(ctx, tx, current, domain.EscrowPendingRelease, "system", true); err != nil {
		return err
	}
	return tx.Commit()
}

// completeMissionTx performs the terminal settlement step inside the
// caller's transaction: the mission and escrow flip to their final states,
// the runner is credited, the runner's aggregate is folded forward, and
// achievements are evaluated against the new aggregate. All of it commits
// or none of it does.
func (e Engine) completeMissionTx(ctx context.Context, tx *sql.Tx, m domain.Mission, escrowFrom, actorID string, auto bool) (domain.Mission, error) {
	if m.RunnerID == nil {
		return domain.Mission{}, fmt.Errorf("%w: mission %s has no runner", ErrStaleTransition, m.ID)
	}
	runnerID := *m.RunnerID
	ts := e.nowRFC3339()

	updated := m
	updated.Status = domain.MissionCompleted
	updated.UpdatedAt = ts
	updated.CompletedAt = &ts
	ok, err := e.Repo.CompareAndSwapMissionStatus(ctx, tx, m.ID, m.Status, updated)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: mission %s changed concurrently", ErrStaleTransition, m.ID)
	}

	esc, err := e.Repo.GetEscrowTx(ctx, tx, m.ID)
	if err != nil {
		return domain.Mission{}, err
	}
	esc.Status = domain.EscrowReleased
	esc.AutoReleaseAt = nil
	esc.UpdatedAt = ts
	ok, err = e.Repo.CompareAndSwapEscrowStatus(ctx, tx, m.ID, escrowFrom, esc)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: escrow for mission %s changed concurrently", ErrStaleTransition, m.ID)
	}

	t := domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    runnerID,
		MissionID: m.ID,
		Amount:    esc.Amount,
		Type:      domain.TxCredit,
		Status:    domain.TxEscrowRelease,
		CreatedAt: ts,
	}
	if err := e.Repo.InsertTransactionTx(ctx, tx, t); err != nil {
		return domain.Mission{}, fmt.Errorf("insert transaction: %w", err)
	}

	profile, err := e.Repo.GetProfileTx(ctx, tx, runnerID)
	if err != nil {
		return domain.Mission{}, err
	}
	earnings, err := decimal.NewFromString(profile.Earnings)
	if err != nil {
		return domain.Mission{}, fmt.Errorf("profile %s earnings %q: %w", runnerID, profile.Earnings, err)
	}
	amount, err := decimal.NewFromString(esc.Amount)
	if err != nil {
		return domain.Mission{}, fmt.Errorf("escrow %s amount %q: %w", m.ID, esc.Amount, err)
	}
	profile.Earnings = earnings.Add(amount).String()
	profile.CompletedCount++
	profile.UpdatedAt = ts
	if err := e.Repo.UpsertProfileTx(ctx, tx, profile); err != nil {
		return domain.Mission{}, fmt.Errorf("upsert profile: %w", err)
	}

	if err := e.Events.Append(ctx, tx, events.MissionCompleted, runnerID, "mission", m.ID, actorID,
		events.EventPayload{"amount": esc.Amount, "auto_released": auto}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.evaluateAchievementsTx(ctx, tx, runnerID, profile, actorID); err != nil {
		return domain.Mission{}, err
	}
	return updated, nil
}

func (e Engine) autoReleaseWindow() time.Duration {
	if e.Config != nil && e.Config.Escrow.AutoRelease.Std() > 0 {
		return e.Config.Escrow.AutoRelease.Std()
	}
	return 7 * 24 * time.Hour
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleTransition)
}
