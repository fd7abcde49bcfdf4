package account

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"intervue/internal/auth"
	"intervue/internal/config"
	"intervue/internal/models"
	"intervue/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	db := openTestDB(t)
	t.Cleanup(func() { db.Close() })
	svc := NewService(db)
	svc.cost = bcrypt.MinCost
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, " alice ", "secret-pw", "Alice", "https://img/alice.png")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID <= 0 || user.Username != "alice" || user.RealtimeID == "" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "secret-pw" {
		t.Fatalf("password stored in plaintext")
	}

	logged, err := svc.Login(ctx, "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID || logged.RealtimeID != user.RealtimeID {
		t.Fatalf("login returned %+v, want %+v", logged, user)
	}
	if _, err := svc.Login(ctx, "alice", "wrong-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "secret-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name                     string
		username, password, disp string
		want                     error
	}{
		{"missing username", "", "secret-pw", "A", ErrInvalidInput},
		{"missing name", "a", "secret-pw", " ", ErrInvalidInput},
		{"short password", "a", "123", "A", ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.username, tc.password, tc.disp, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.Register(ctx, "bob", "secret-pw", "Bob", ""); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := svc.Register(ctx, "bob", "other-pw", "Bobby", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}
}

func TestGetUserAndDelete(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "carol", "secret-pw", "Carol", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Name != "Carol" {
		t.Fatalf("unexpected name %q", got.Name)
	}

	store := storage.NewSessionStore(db)
	session := &models.Session{HostID: user.ID, Problem: "Two Sum", Difficulty: "easy", CallID: "session_1_abc"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, ErrInActiveSession) {
		t.Fatalf("expected active session guard, got %v", err)
	}
	if _, err := store.Complete(ctx, session.ID); err != nil {
		t.Fatalf("complete session: %v", err)
	}

	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := svc.GetUser(ctx, user.ID); !errors.Is(err, auth.ErrUnknownUser) {
		t.Fatalf("expected unknown user after delete, got %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, auth.ErrUnknownUser) {
		t.Fatalf("expected unknown user on second delete, got %v", err)
	}
}

func TestDeleteParticipantKeepsSeatTaken(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	host, err := svc.Register(ctx, "alice", "secret-pw", "Alice", "")
	if err != nil {
		t.Fatalf("register host: %v", err)
	}
	guest, err := svc.Register(ctx, "bob", "secret-pw", "Bob", "")
	if err != nil {
		t.Fatalf("register guest: %v", err)
	}
	late, err := svc.Register(ctx, "carol", "secret-pw", "Carol", "")
	if err != nil {
		t.Fatalf("register late joiner: %v", err)
	}

	store := storage.NewSessionStore(db)
	session := &models.Session{HostID: host.ID, Problem: "Two Sum", Difficulty: "easy", CallID: "session_2_abc"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if ok, err := store.AssignParticipant(ctx, session.ID, guest.ID); err != nil || !ok {
		t.Fatalf("assign participant: ok=%v err=%v", ok, err)
	}

	if err := svc.DeleteUser(ctx, guest.ID); !errors.Is(err, ErrInActiveSession) {
		t.Fatalf("participant of an active session must not be deletable, got %v", err)
	}
	if ok, err := store.AssignParticipant(ctx, session.ID, late.ID); err != nil || ok {
		t.Fatalf("second participant must not be seated: ok=%v err=%v", ok, err)
	}

	if _, err := store.Complete(ctx, session.ID); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if err := svc.DeleteUser(ctx, guest.ID); err != nil {
		t.Fatalf("delete participant after completion: %v", err)
	}
	got, err := store.FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if got.Participant != nil || !got.HasParticipant() || got.JoinedAt == nil {
		t.Fatalf("completed session should still record a taken seat, got participant=%+v joined_at=%v", got.Participant, got.JoinedAt)
	}
}
