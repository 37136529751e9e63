package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gigline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const missionColumns = `id,owner_id,runner_id,title,description,price,currency,status,evidence_json,proof_notes,created_at,updated_at,completed_at`

func scanMission(scan func(dest ...any) error) (domain.Mission, error) {
	var m domain.Mission
	var runnerID, description, evidence, notes, completedAt sql.NullString
	err := scan(&m.ID, &m.OwnerID, &runnerID, &m.Title, &description, &m.Price, &m.Currency, &m.Status,
		&evidence, &notes, &m.CreatedAt, &m.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if runnerID.Valid {
		m.RunnerID = &runnerID.String
	}
	if description.Valid {
		m.Description = description.String
	}
	if evidence.Valid {
		m.EvidenceJSON = &evidence.String
	}
	if notes.Valid {
		m.ProofNotes = &notes.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.String
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, nullableStringPtr(m.RunnerID), m.Title, nullable(m.Description), m.Price, m.Currency, m.Status,
		nullableStringPtr(m.EvidenceJSON), nullableStringPtr(m.ProofNotes), m.CreatedAt, m.UpdatedAt, nullableStringPtr(m.CompletedAt))
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id)
	return scanMission(row.Scan)
}

func (r Repo) GetMissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id)
	return scanMission(row.Scan)
}

// CompareAndSwapMissionStatus performs the single-writer serialization
// point for the mission state machine: the update applies only while the
// row still holds fromStatus. Zero rows affected means another writer got
// there first.
func (r Repo) CompareAndSwapMissionStatus(ctx context.Context, tx *sql.Tx, id, fromStatus string, m domain.Mission) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET runner_id=?, status=?, evidence_json=?, proof_notes=?, updated_at=?, completed_at=?
WHERE id=? AND status=?`,
		nullableStringPtr(m.RunnerID), m.Status, nullableStringPtr(m.EvidenceJSON), nullableStringPtr(m.ProofNotes),
		m.UpdatedAt, nullableStringPtr(m.CompletedAt), id, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type MissionFilters struct {
	Status          string
	OwnerID         string
	RunnerID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.RunnerID != "" {
		clauses = append(clauses, "runner_id=?")
		args = append(args, f.RunnerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + missionColumns + ` FROM missions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// OverdueMissions returns missions past their escrow auto-release deadline
// and still waiting on owner action.
func (r Repo) OverdueMissions(ctx context.Context, now string, limit int) ([]domain.Mission, error) {
	query := `SELECT m.` + strings.ReplaceAll(missionColumns, ",", ",m.") + ` FROM missions m
JOIN escrow_records e ON e.mission_id = m.id
WHERE m.status=? AND e.status=? AND e.auto_release_at IS NOT NULL AND e.auto_release_at <= ?
ORDER BY e.auto_release_at ASC`
	args := []any{domain.MissionPendingCompletion, domain.EscrowPendingRelease, now}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountMissionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM missions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, subjectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.latestEventsFrom(ctx, limit, 0, subjectID, evtType, entityKind, entityID)
}

func (r Repo) latestEventsFrom(ctx context.Context, limit int, cursor int64, subjectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if subjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, subjectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,subject_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,subject_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var subject, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &subject, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if subject.Valid {
			e.SubjectID = subject.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
