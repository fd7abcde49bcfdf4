package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intervue/internal/models"
)

// ErrSessionNotFound is returned when no session matches the id.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists interview sessions. Mutations that guard a lifecycle
// rule are single conditional UPDATEs and report whether a row changed.
type SessionStore struct {
	db  *DB
	Now func() time.Time
}

// NewSessionStore builds a store on top of an open database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{
		db:  db,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

const sessionColumns = `s.id, s.problem, s.difficulty, s.host_id, s.participant_id, s.joined_at, s.call_id,
	s.status, s.resource_state, s.created_at, s.updated_at, s.ended_at,
	h.name, h.profile_image, p.name, p.profile_image`

const sessionFrom = `FROM interview_sessions s
	JOIN users h ON h.id = s.host_id
	LEFT JOIN users p ON p.id = s.participant_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s           models.Session
		participant sql.NullInt64
		joinedAt    sql.NullTime
		endedAt     sql.NullTime
		hostName    string
		hostImage   string
		partName    sql.NullString
		partImage   sql.NullString
		status      string
		resources   string
	)
	if err := row.Scan(&s.ID, &s.Problem, &s.Difficulty, &s.HostID, &participant, &joinedAt, &s.CallID,
		&status, &resources, &s.CreatedAt, &s.UpdatedAt, &endedAt,
		&hostName, &hostImage, &partName, &partImage); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.Resources = models.ResourceState(resources)
	s.Host = &models.UserRef{ID: s.HostID, Name: hostName, ProfileImage: hostImage}
	if participant.Valid {
		s.ParticipantID = participant.Int64
		s.Participant = &models.UserRef{ID: participant.Int64, Name: partName.String, ProfileImage: partImage.String}
	}
	if joinedAt.Valid {
		t := joinedAt.Time
		s.JoinedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// Create inserts an active session in the provisioning resource state.
// The id and timestamps are assigned here and written back into s.
func (st *SessionStore) Create(ctx context.Context, s *models.Session) error {
	if s == nil || s.HostID <= 0 {
		return errors.New("host_id is required")
	}
	now := st.Now()
	id := uuid.New().String()
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO interview_sessions (id, problem, difficulty, host_id, call_id, status, resource_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.Problem, s.Difficulty, s.HostID, s.CallID, models.StatusActive, models.ResourcesProvisioning, now, now,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.ID = id
	s.Status = models.StatusActive
	s.Resources = models.ResourcesProvisioning
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// FindByID returns the session with host and participant display identities.
func (st *SessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	row := st.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` `+sessionFrom+` WHERE s.id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListActive returns usable active sessions, newest first.
func (st *SessionStore) ListActive(ctx context.Context, limit int) ([]*models.Session, error) {
	return st.list(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE s.status = ? AND s.resource_state = ?
		 ORDER BY s.created_at DESC, s.id DESC LIMIT ?`,
		models.StatusActive, models.ResourcesReady, limit,
	)
}

// ListCompletedFor returns completed sessions the user hosted or joined, newest first.
func (st *SessionStore) ListCompletedFor(ctx context.Context, userID int64, limit int) ([]*models.Session, error) {
	return st.list(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE s.status = ? AND (s.host_id = ? OR s.participant_id = ?)
		 ORDER BY s.created_at DESC, s.id DESC LIMIT ?`,
		models.StatusCompleted, userID, userID, limit,
	)
}

// ListByResourceState returns sessions stuck in state that were last touched before cutoff.
func (st *SessionStore) ListByResourceState(ctx context.Context, state models.ResourceState, cutoff time.Time, limit int) ([]*models.Session, error) {
	return st.list(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE s.resource_state = ? AND s.updated_at <= ?
		 ORDER BY s.updated_at ASC LIMIT ?`,
		state, cutoff, limit,
	)
}

func (st *SessionStore) list(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AssignParticipant fills the participant seat if the session is active,
// the seat was never taken and userID is not the host. joined_at stays set
// even when the participant's account is later deleted.
func (st *SessionStore) AssignParticipant(ctx context.Context, id string, userID int64) (bool, error) {
	now := st.Now()
	res, err := st.db.ExecContext(ctx,
		`UPDATE interview_sessions SET participant_id = ?, joined_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND joined_at IS NULL AND participant_id IS NULL AND host_id <> ?`,
		userID, now, now, id, models.StatusActive, userID,
	)
	return affectedOne(res, err, "assign participant")
}

// ReleaseParticipant undoes a join that failed half way. It only applies
// while the session is active and userID still holds the seat.
func (st *SessionStore) ReleaseParticipant(ctx context.Context, id string, userID int64) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		`UPDATE interview_sessions SET participant_id = NULL, joined_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND participant_id = ?`,
		st.Now(), id, models.StatusActive, userID,
	)
	return affectedOne(res, err, "release participant")
}

// SetResourceState moves an active session's resource state from one value to another.
func (st *SessionStore) SetResourceState(ctx context.Context, id string, from, to models.ResourceState) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		`UPDATE interview_sessions SET resource_state = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND resource_state = ?`,
		to, st.Now(), id, models.StatusActive, from,
	)
	return affectedOne(res, err, "set resource state")
}

// Complete flips an active session to completed and marks its resources released.
func (st *SessionStore) Complete(ctx context.Context, id string) (bool, error) {
	now := st.Now()
	res, err := st.db.ExecContext(ctx,
		`UPDATE interview_sessions SET status = ?, resource_state = ?, ended_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusCompleted, models.ResourcesReleased, now, now, id, models.StatusActive,
	)
	return affectedOne(res, err, "complete session")
}

// Delete removes a session that never finished provisioning.
func (st *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx,
		`DELETE FROM interview_sessions WHERE id = ? AND resource_state = ?`,
		id, models.ResourcesProvisioning,
	)
	ok, err := affectedOne(res, err, "delete session")
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func affectedOne(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected == 1, nil
}
