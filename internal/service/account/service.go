package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"intervue/internal/auth"
	"intervue/internal/models"
	"intervue/internal/storage"
)

const minPasswordLength = 6

var (
	ErrInvalidInput       = errors.New("username, password and name are required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInActiveSession    = errors.New("active sessions must be completed before deleting the account")
)

// Service manages user accounts. Each account gets a stable realtime id
// used as its identity on the call and chat provider.
type Service struct {
	db   *storage.DB
	cost int
}

// NewService builds an account service backed by db.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, cost: bcrypt.DefaultCost}
}

// Register creates a user with the supplied credentials and profile.
func (s *Service) Register(ctx context.Context, username, password, name, profileImage string) (*models.User, error) {
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if username == "" || strings.TrimSpace(password) == "" || name == "" {
		return nil, ErrInvalidInput
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Username:     username,
		Name:         name,
		ProfileImage: strings.TrimSpace(profileImage),
		RealtimeID:   uuid.NewString(),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	id, err := s.db.InsertID(ctx,
		`INSERT INTO users (username, name, profile_image, realtime_id, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.Username, user.Name, user.ProfileImage, user.RealtimeID, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.ID = id
	return user, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser loads a user by id. A missing user yields auth.ErrUnknownUser.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, auth.ErrUnknownUser
	}
	user, err := s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUnknownUser
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user. Members of active sessions are refused so the
// cascade never orphans provider resources or empties a taken seat.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return auth.ErrUnknownUser
	}
	if err := s.EnsureDeletable(ctx, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrUnknownUser
	}
	return nil
}

// EnsureDeletable fails with ErrInActiveSession while id hosts or sits in
// an active session.
func (s *Service) EnsureDeletable(ctx context.Context, id int64) error {
	var active bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM interview_sessions WHERE (host_id = ? OR participant_id = ?) AND status = ?)`,
		id, id, string(models.StatusActive),
	).Scan(&active); err != nil {
		return fmt.Errorf("check active sessions: %w", err)
	}
	if active {
		return ErrInActiveSession
	}
	return nil
}

const selectUser = `SELECT id, username, name, profile_image, realtime_id, password_hash, created_at FROM users`

func (s *Service) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.ProfileImage, &u.RealtimeID, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
