package interview

import (
	"context"
	"errors"
	"time"

	"intervue/internal/logger"
	"intervue/internal/models"
	"intervue/internal/redis"
)

const sessionCachePrefix = "interview:session:"

// Cache holds recently read sessions in redis. A nil *Cache is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns nil when client is nil.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// cachedSession carries the fields a Session hides from JSON.
type cachedSession struct {
	*models.Session
	CachedHostID        int64                `json:"cached_host_id"`
	CachedParticipantID int64                `json:"cached_participant_id"`
	CachedResources     models.ResourceState `json:"cached_resources"`
}

func (c *Cache) Get(ctx context.Context, id string) (*models.Session, bool) {
	if c == nil {
		return nil, false
	}
	entry := cachedSession{Session: &models.Session{}}
	if err := c.client.GetJSON(ctx, sessionCachePrefix+id, &entry); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Logger.WithError(err).WithField("session_id", id).Warn("read cached session failed")
		}
		return nil, false
	}
	entry.Session.HostID = entry.CachedHostID
	entry.Session.ParticipantID = entry.CachedParticipantID
	entry.Session.Resources = entry.CachedResources
	return entry.Session, true
}

func (c *Cache) Put(ctx context.Context, session *models.Session) {
	if c == nil || session == nil {
		return
	}
	entry := cachedSession{
		Session:             session,
		CachedHostID:        session.HostID,
		CachedParticipantID: session.ParticipantID,
		CachedResources:     session.Resources,
	}
	if err := c.client.SetJSON(ctx, sessionCachePrefix+session.ID, entry, c.ttl); err != nil {
		logger.Logger.WithError(err).WithField("session_id", session.ID).Warn("cache session failed")
	}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	if c == nil {
		return
	}
	if err := c.client.Del(context.WithoutCancel(ctx), sessionCachePrefix+id); err != nil {
		logger.Logger.WithError(err).WithField("session_id", id).Warn("drop cached session failed")
	}
}
