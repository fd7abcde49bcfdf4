package interview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"intervue/internal/events"
	"intervue/internal/logger"
	"intervue/internal/models"
	"intervue/internal/realtime"
	"intervue/internal/storage"
)

// ListLimit caps every session listing.
const ListLimit = 20

// Store is the persistence the lifecycle needs. Guarded mutations are
// conditional updates that report whether they applied.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListActive(ctx context.Context, limit int) ([]*models.Session, error)
	ListCompletedFor(ctx context.Context, userID int64, limit int) ([]*models.Session, error)
	ListByResourceState(ctx context.Context, state models.ResourceState, cutoff time.Time, limit int) ([]*models.Session, error)
	AssignParticipant(ctx context.Context, id string, userID int64) (bool, error)
	ReleaseParticipant(ctx context.Context, id string, userID int64) (bool, error)
	SetResourceState(ctx context.Context, id string, from, to models.ResourceState) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Requester is the authenticated caller of an operation.
type Requester struct {
	UserID     int64
	RealtimeID string
}

// Service runs the session lifecycle: create, join and end, keeping the
// stored record and the realtime call and channel in step.
type Service struct {
	store  Store
	rt     realtime.Provisioner
	events events.Publisher
	cache  *Cache
	now    func() time.Time
}

// NewService wires the lifecycle. pub and cache may be nil.
func NewService(store Store, rt realtime.Provisioner, pub events.Publisher, cache *Cache) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:  store,
		rt:     rt,
		events: pub,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new active session hosted by req, then provisions its
// call and chat channel. A failed step undoes the steps before it.
func (s *Service) Create(ctx context.Context, req Requester, problem, difficulty string) (*models.Session, error) {
	problem = strings.TrimSpace(problem)
	difficulty = strings.TrimSpace(difficulty)
	if problem == "" || difficulty == "" {
		return nil, newError(KindValidation, MsgFieldsRequired)
	}
	callID, err := newCallID(s.now())
	if err != nil {
		return nil, dependency(err)
	}
	session := &models.Session{
		Problem:    problem,
		Difficulty: difficulty,
		HostID:     req.UserID,
		CallID:     callID,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, dependency(err)
	}
	log := sessionLog(session)

	meta := realtime.CallMetadata{Problem: problem, Difficulty: difficulty, SessionID: session.ID}
	if err := s.rt.CreateCall(ctx, callID, req.RealtimeID, meta); err != nil {
		log.WithError(err).WithField("step", "create_call").Error("provision session failed")
		s.discard(ctx, session, false)
		return nil, dependency(err)
	}
	members := []string{req.RealtimeID}
	if err := s.rt.CreateChannel(ctx, callID, problem+" Session", req.RealtimeID, members); err != nil {
		log.WithError(err).WithField("step", "create_channel").Error("provision session failed")
		s.discard(ctx, session, true)
		return nil, dependency(err)
	}
	ok, err := s.store.SetResourceState(ctx, session.ID, models.ResourcesProvisioning, models.ResourcesReady)
	if err != nil {
		log.WithError(err).WithField("step", "mark_ready").Error("provision session failed")
		return nil, dependency(err)
	}
	if !ok {
		// ended or reaped while provisioning; nothing else will remove these resources
		err = errors.New("session left provisioning state")
		log.WithError(err).WithField("step", "mark_ready").Error("provision session failed")
		if terr := s.teardown(context.WithoutCancel(ctx), session); terr != nil {
			log.WithError(terr).Error("teardown after lost provisioning failed")
		}
		return nil, dependency(err)
	}
	session.Resources = models.ResourcesReady

	created := s.reload(ctx, session)
	log.WithField("host_id", req.UserID).Info("session created")
	s.publish(ctx, events.SessionCreated, created)
	return created, nil
}

// discard compensates a failed create. When the call cannot be removed the
// record is kept so the reconciler can retry with the same call id.
func (s *Service) discard(ctx context.Context, session *models.Session, callCreated bool) {
	ctx = context.WithoutCancel(ctx)
	log := sessionLog(session)
	if callCreated {
		if err := s.rt.DeleteCall(ctx, session.CallID, true); err != nil {
			log.WithError(err).WithField("step", "compensate_call").Warn("leaving session for reconciler")
			return
		}
	}
	if err := s.store.Delete(ctx, session.ID); err != nil {
		log.WithError(err).WithField("step", "compensate_record").Warn("leaving session for reconciler")
	}
}

// ListActive returns joinable sessions, newest first.
func (s *Service) ListActive(ctx context.Context) ([]*models.Session, error) {
	sessions, err := s.store.ListActive(ctx, ListLimit)
	if err != nil {
		return nil, dependency(err)
	}
	return sessions, nil
}

// ListRecentFor returns completed sessions userID hosted or joined, newest first.
func (s *Service) ListRecentFor(ctx context.Context, userID int64) ([]*models.Session, error) {
	sessions, err := s.store.ListCompletedFor(ctx, userID, ListLimit)
	if err != nil {
		return nil, dependency(err)
	}
	return sessions, nil
}

// Get returns one session with host and participant identities.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	if cached, ok := s.cache.Get(ctx, id); ok {
		return cached, nil
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, session)
	return session, nil
}

// Join seats req as the participant and adds them to the chat channel.
func (s *Service) Join(ctx context.Context, req Requester, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := joinable(session, req.UserID); err != nil {
		return nil, err
	}
	ok, err := s.store.AssignParticipant(ctx, id, req.UserID)
	if err != nil {
		return nil, dependency(err)
	}
	if !ok {
		// lost a race; classify against the current record
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := joinable(current, req.UserID); err != nil {
			return nil, err
		}
		return nil, newError(KindConflict, MsgSessionFull)
	}
	log := sessionLog(session)

	if err := s.rt.AddChannelMember(ctx, session.CallID, req.RealtimeID); err != nil {
		log.WithError(err).WithField("step", "add_channel_member").Error("join session failed")
		if _, rerr := s.store.ReleaseParticipant(context.WithoutCancel(ctx), id, req.UserID); rerr != nil {
			log.WithError(rerr).WithField("step", "release_participant").Error("revert join failed")
		}
		s.cache.Invalidate(ctx, id)
		return nil, dependency(err)
	}
	s.cache.Invalidate(ctx, id)

	session.ParticipantID = req.UserID
	joined := s.reload(ctx, session)
	log.WithField("participant_id", req.UserID).Info("session joined")
	s.publish(ctx, events.SessionJoined, joined)
	return joined, nil
}

func joinable(session *models.Session, userID int64) error {
	switch {
	case session.Status != models.StatusActive:
		return newError(KindInvalidTransition, MsgJoinCompleted)
	case session.HostID == userID:
		return newError(KindInvalidTransition, MsgHostJoin)
	case session.HasParticipant():
		return newError(KindConflict, MsgSessionFull)
	case session.Resources != models.ResourcesReady:
		return newError(KindConflict, MsgNotReady)
	}
	return nil
}

// End tears down the call and channel, then marks the session completed.
// If teardown fails the session stays active and is flagged for retry.
func (s *Service) End(ctx context.Context, req Requester, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.HostID != req.UserID {
		return nil, newError(KindPermission, MsgNotHost)
	}
	if session.Status == models.StatusCompleted {
		return nil, newError(KindInvalidTransition, MsgAlreadyCompleted)
	}
	log := sessionLog(session)

	if err := s.teardown(ctx, session); err != nil {
		log.WithError(err).Error("end session teardown failed")
		if session.Resources != models.ResourcesTeardownPending {
			if _, serr := s.store.SetResourceState(context.WithoutCancel(ctx), id, session.Resources, models.ResourcesTeardownPending); serr != nil {
				log.WithError(serr).Error("flag teardown pending failed")
			}
		}
		s.cache.Invalidate(ctx, id)
		return nil, dependency(err)
	}
	ok, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, dependency(err)
	}
	if !ok {
		return nil, newError(KindInvalidTransition, MsgAlreadyCompleted)
	}
	s.cache.Invalidate(ctx, id)

	ended := s.reload(ctx, session)
	log.Info("session ended")
	s.publish(ctx, events.SessionEnded, ended)
	return ended, nil
}

// teardown deletes the call, then the channel. Both deletes tolerate
// resources that are already gone.
func (s *Service) teardown(ctx context.Context, session *models.Session) error {
	if err := s.rt.DeleteCall(ctx, session.CallID, true); err != nil {
		return err
	}
	return s.rt.DeleteChannel(ctx, session.CallID)
}

func (s *Service) load(ctx context.Context, id string) (*models.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(KindNotFound, MsgNotFound)
	}
	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, newError(KindNotFound, MsgNotFound)
		}
		return nil, dependency(err)
	}
	return session, nil
}

// reload re-reads a session after a committed change, falling back to the
// caller's copy if the read fails.
func (s *Service) reload(ctx context.Context, session *models.Session) *models.Session {
	fresh, err := s.store.FindByID(ctx, session.ID)
	if err != nil {
		sessionLog(session).WithError(err).Warn("reload session failed")
		return session
	}
	return fresh
}

func (s *Service) publish(ctx context.Context, typ events.Type, session *models.Session) {
	ev := events.Event{
		Type:          typ,
		SessionID:     session.ID,
		CallID:        session.CallID,
		HostID:        session.HostID,
		ParticipantID: session.ParticipantID,
		At:            s.now(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		sessionLog(session).WithError(err).WithField("event", typ).Warn("publish event failed")
	}
}

func sessionLog(session *models.Session) *logrus.Entry {
	return logger.Logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"call_id":    session.CallID,
	})
}
