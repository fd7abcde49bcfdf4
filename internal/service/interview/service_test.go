package interview

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"intervue/internal/config"
	"intervue/internal/events"
	"intervue/internal/models"
	"intervue/internal/realtime"
	"intervue/internal/storage"
)

var callIDPattern = regexp.MustCompile(`^session_\d+_[0-9a-z]+$`)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	db    *storage.DB
	svc   *Service
	store *storage.SessionStore
	rt    *realtime.Memory
	pub   *recordingPublisher
	alice Requester
	bob   Requester
	carol Requester
}

func newTestEnv(t *testing.T) *testEnv {
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
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := storage.NewSessionStore(db)
	store.Now = steppedClock()
	rt := realtime.NewMemory()
	pub := &recordingPublisher{}
	env := &testEnv{
		db:    db,
		svc:   NewService(store, rt, pub, nil),
		store: store,
		rt:    rt,
		pub:   pub,
	}
	env.alice = insertUser(t, db, "alice")
	env.bob = insertUser(t, db, "bob")
	env.carol = insertUser(t, db, "carol")
	return env
}

func insertUser(t *testing.T, db *storage.DB, name string) Requester {
	t.Helper()
	realtimeID := "rt-" + name
	id, err := db.InsertID(context.Background(),
		`INSERT INTO users (username, name, profile_image, realtime_id, password_hash, created_at) VALUES (?, ?, '', ?, 'x', ?)`,
		name, name, realtimeID, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user %s: %v", name, err)
	}
	return Requester{UserID: id, RealtimeID: realtimeID}
}

func steppedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Now().UTC().Truncate(time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func assertKind(t *testing.T, err error, want Kind, msg string) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error of kind %s, got %v", want, err)
	}
	if e.Kind != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, e.Kind, err)
	}
	if msg != "" && e.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, e.Message)
	}
}

func mustCreate(t *testing.T, env *testEnv, host Requester, problem string) *models.Session {
	t.Helper()
	session, err := env.svc.Create(context.Background(), host, problem, "Easy")
	if err != nil {
		t.Fatalf("create %s: %v", problem, err)
	}
	return session
}

func TestCreateProvisionsSession(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.svc.Create(context.Background(), env.alice, "Two Sum", "Easy")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Status != models.StatusActive || session.HostID != env.alice.UserID || session.HasParticipant() {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Host == nil || session.Host.Name != "alice" {
		t.Fatalf("expected host display identity, got %+v", session.Host)
	}
	if !callIDPattern.MatchString(session.CallID) {
		t.Fatalf("call id %q does not match pattern", session.CallID)
	}
	if session.Resources != models.ResourcesReady {
		t.Fatalf("expected ready resources, got %s", session.Resources)
	}

	call, ok := env.rt.Call(session.CallID)
	if !ok || call.Creator != "rt-alice" || call.Meta.SessionID != session.ID || call.Meta.Problem != "Two Sum" {
		t.Fatalf("unexpected call %+v (found=%v)", call, ok)
	}
	channel, ok := env.rt.Channel(session.CallID)
	if !ok || channel.Name != "Two Sum Session" || len(channel.Members) != 1 || channel.Members[0] != "rt-alice" {
		t.Fatalf("unexpected channel %+v (found=%v)", channel, ok)
	}
	if got := env.pub.types(); len(got) != 1 || got[0] != events.SessionCreated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCreateRequiresFields(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct{ problem, difficulty string }{
		{"", "Easy"},
		{"Two Sum", ""},
		{"   ", "Easy"},
	}
	for _, tc := range cases {
		_, err := env.svc.Create(context.Background(), env.alice, tc.problem, tc.difficulty)
		assertKind(t, err, KindValidation, MsgFieldsRequired)
	}
	if calls, channels := env.rt.Live(); calls != 0 || channels != 0 {
		t.Fatalf("validation failure must not provision, got %d calls %d channels", calls, channels)
	}
}

func TestCreateCompensatesFailedProvisioning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rt.FailNext(realtime.OpCreateCall, errors.New("video down"))
	_, err := env.svc.Create(ctx, env.alice, "Two Sum", "Easy")
	assertKind(t, err, KindDependency, "")

	env.rt.FailNext(realtime.OpCreateChannel, errors.New("chat down"))
	_, err = env.svc.Create(ctx, env.alice, "Valid Parens", "Easy")
	assertKind(t, err, KindDependency, "")

	if calls, channels := env.rt.Live(); calls != 0 || channels != 0 {
		t.Fatalf("expected compensated resources, got %d calls %d channels", calls, channels)
	}
	left, err := env.store.ListByResourceState(ctx, models.ResourcesProvisioning, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list provisioning: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected compensated records to be removed, got %d", len(left))
	}
	if len(env.pub.types()) != 0 {
		t.Fatalf("failed creates must not publish events")
	}
}

func TestJoinScenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")

	_, err := env.svc.Join(ctx, env.alice, session.ID)
	assertKind(t, err, KindInvalidTransition, MsgHostJoin)

	joined, err := env.svc.Join(ctx, env.bob, session.ID)
	if err != nil {
		t.Fatalf("join by bob: %v", err)
	}
	if joined.ParticipantID != env.bob.UserID || joined.Status != models.StatusActive {
		t.Fatalf("unexpected joined session %+v", joined)
	}
	if joined.Participant == nil || joined.Participant.Name != "bob" {
		t.Fatalf("expected participant identity, got %+v", joined.Participant)
	}
	channel, _ := env.rt.Channel(session.CallID)
	if len(channel.Members) != 2 {
		t.Fatalf("expected bob in channel, got %v", channel.Members)
	}

	_, err = env.svc.Join(ctx, env.carol, session.ID)
	assertKind(t, err, KindConflict, MsgSessionFull)
	_, err = env.svc.Join(ctx, env.bob, session.ID)
	assertKind(t, err, KindConflict, MsgSessionFull)

	current, err := env.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.ParticipantID != env.bob.UserID {
		t.Fatalf("participant changed to %d", current.ParticipantID)
	}

	_, err = env.svc.Join(ctx, env.bob, "missing")
	assertKind(t, err, KindNotFound, MsgNotFound)
}

func TestJoinCompletedSessionFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")
	if _, err := env.svc.End(ctx, env.alice, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	_, err := env.svc.Join(ctx, env.bob, session.ID)
	assertKind(t, err, KindInvalidTransition, MsgJoinCompleted)

	current, _ := env.svc.Get(ctx, session.ID)
	if current.HasParticipant() {
		t.Fatalf("join on completed session mutated participant")
	}
}

func TestJoinRevertsWhenChannelFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")

	env.rt.FailNext(realtime.OpAddChannelMember, errors.New("chat down"))
	_, err := env.svc.Join(ctx, env.bob, session.ID)
	assertKind(t, err, KindDependency, "")

	current, _ := env.svc.Get(ctx, session.ID)
	if current.HasParticipant() {
		t.Fatalf("expected participant seat to be released")
	}
	if _, err := env.svc.Join(ctx, env.carol, session.ID); err != nil {
		t.Fatalf("join after revert: %v", err)
	}
}

func TestConcurrentJoinSeatsOneParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for _, req := range []Requester{env.bob, env.carol, env.bob, env.carol} {
		wg.Add(1)
		go func(req Requester) {
			defer wg.Done()
			_, err := env.svc.Join(ctx, req, session.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(req)
	}
	wg.Wait()
	if winners != 1 || conflicts != 3 {
		t.Fatalf("expected 1 winner and 3 conflicts, got %d and %d", winners, conflicts)
	}
}

func TestEndScenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")
	if _, err := env.svc.Join(ctx, env.bob, session.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	_, err := env.svc.End(ctx, env.bob, session.ID)
	assertKind(t, err, KindPermission, MsgNotHost)
	if _, ok := env.rt.Call(session.CallID); !ok {
		t.Fatalf("non-host end must not touch resources")
	}

	ended, err := env.svc.End(ctx, env.alice, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != models.StatusCompleted || ended.EndedAt == nil {
		t.Fatalf("unexpected ended session %+v", ended)
	}
	if calls, channels := env.rt.Live(); calls != 0 || channels != 0 {
		t.Fatalf("expected resources deleted, got %d calls %d channels", calls, channels)
	}

	_, err = env.svc.End(ctx, env.alice, session.ID)
	assertKind(t, err, KindInvalidTransition, MsgAlreadyCompleted)
	_, err = env.svc.End(ctx, env.bob, session.ID)
	assertKind(t, err, KindPermission, MsgNotHost)
	_, err = env.svc.End(ctx, env.alice, "missing")
	assertKind(t, err, KindNotFound, MsgNotFound)

	want := []events.Type{events.SessionCreated, events.SessionJoined, events.SessionEnded}
	got := env.pub.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestEndTeardownFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := mustCreate(t, env, env.alice, "Two Sum")

	env.rt.FailNext(realtime.OpDeleteChannel, errors.New("chat down"))
	_, err := env.svc.End(ctx, env.alice, session.ID)
	assertKind(t, err, KindDependency, "")

	current, _ := env.svc.Get(ctx, session.ID)
	if current.Status != models.StatusActive || current.Resources != models.ResourcesTeardownPending {
		t.Fatalf("expected active session pending teardown, got %s/%s", current.Status, current.Resources)
	}
	active, _ := env.svc.ListActive(ctx)
	if len(active) != 0 {
		t.Fatalf("session pending teardown must not be listed as active")
	}

	// call is already gone; the retry must treat that as done
	ended, err := env.svc.End(ctx, env.alice, session.ID)
	if err != nil {
		t.Fatalf("retry end: %v", err)
	}
	if ended.Status != models.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", ended.Status)
	}
	if calls, channels := env.rt.Live(); calls != 0 || channels != 0 {
		t.Fatalf("expected resources deleted, got %d calls %d channels", calls, channels)
	}
}

func TestListings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var created []*models.Session
	for i := 0; i < 23; i++ {
		created = append(created, mustCreate(t, env, env.alice, fmt.Sprintf("Problem %02d", i)))
	}
	active, err := env.svc.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != ListLimit {
		t.Fatalf("expected %d active sessions, got %d", ListLimit, len(active))
	}
	if active[0].ID != created[22].ID {
		t.Fatalf("expected newest first, got %s", active[0].Problem)
	}
	for i := 1; i < len(active); i++ {
		if active[i].CreatedAt.After(active[i-1].CreatedAt) {
			t.Fatalf("active sessions not sorted newest first at %d", i)
		}
	}

	if _, err := env.svc.Join(ctx, env.bob, created[0].ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, s := range created[:3] {
		if _, err := env.svc.End(ctx, env.alice, s.ID); err != nil {
			t.Fatalf("end: %v", err)
		}
	}

	active, _ = env.svc.ListActive(ctx)
	for _, s := range active {
		if s.Status != models.StatusActive {
			t.Fatalf("listActive returned %s session", s.Status)
		}
	}
	hostRecent, err := env.svc.ListRecentFor(ctx, env.alice.UserID)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(hostRecent) != 3 || hostRecent[0].ID != created[2].ID {
		t.Fatalf("unexpected host recent sessions %d", len(hostRecent))
	}
	for _, s := range hostRecent {
		if s.Status != models.StatusCompleted {
			t.Fatalf("listRecentFor returned %s session", s.Status)
		}
	}
	guestRecent, _ := env.svc.ListRecentFor(ctx, env.bob.UserID)
	if len(guestRecent) != 1 || guestRecent[0].ID != created[0].ID {
		t.Fatalf("unexpected participant recent sessions %+v", guestRecent)
	}
	if none, _ := env.svc.ListRecentFor(ctx, env.carol.UserID); len(none) != 0 {
		t.Fatalf("uninvolved user should have no recent sessions")
	}
}

func TestListRecentForCapsAtLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var created []*models.Session
	for i := 0; i < ListLimit+3; i++ {
		s := mustCreate(t, env, env.alice, fmt.Sprintf("Problem %02d", i))
		if _, err := env.svc.End(ctx, env.alice, s.ID); err != nil {
			t.Fatalf("end %s: %v", s.Problem, err)
		}
		created = append(created, s)
	}
	recent, err := env.svc.ListRecentFor(ctx, env.alice.UserID)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != ListLimit {
		t.Fatalf("expected %d recent sessions, got %d", ListLimit, len(recent))
	}
	if recent[0].ID != created[len(created)-1].ID {
		t.Fatalf("expected newest first, got %s", recent[0].Problem)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.After(recent[i-1].CreatedAt) {
			t.Fatalf("recent sessions not sorted newest first at %d", i)
		}
	}
}

func TestJoinStaysFullAfterParticipantRemoved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := mustCreate(t, env, env.alice, "Two Sum")
	if _, err := env.svc.Join(ctx, env.bob, session.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, env.bob.UserID); err != nil {
		t.Fatalf("delete participant: %v", err)
	}

	_, err := env.svc.Join(ctx, env.carol, session.ID)
	assertKind(t, err, KindConflict, MsgSessionFull)

	got, err := env.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.HasParticipant() || got.JoinedAt == nil {
		t.Fatalf("seat should stay taken, got %+v", got)
	}
	ch, ok := env.rt.Channel(session.CallID)
	if !ok {
		t.Fatalf("channel missing")
	}
	if len(ch.Members) != 2 {
		t.Fatalf("expected 2 channel members, got %v", ch.Members)
	}
}

func TestGetUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Get(context.Background(), "nope")
	assertKind(t, err, KindNotFound, MsgNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is to match by kind")
	}
	if KindOf(err) != KindNotFound || KindOf(errors.New("x")) != 0 {
		t.Fatalf("KindOf misclassified errors")
	}
}
