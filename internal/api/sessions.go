package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"intervue/internal/logger"
	"intervue/internal/models"
	"intervue/internal/service/interview"
)

type createSessionRequest struct {
	Problem    string `json:"problem"`
	Difficulty string `json:"difficulty"`
}

func requester(user *models.User) interview.Requester {
	return interview.Requester{UserID: user.ID, RealtimeID: user.RealtimeID}
}

func (h *Handler) createSession(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": interview.MsgFieldsRequired})
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), requester(user), req.Problem, req.Difficulty)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *Handler) activeSessions(c *gin.Context) {
	sessions, err := h.sessions.ListActive(c.Request.Context())
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) myRecentSessions(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListRecentFor(c.Request.Context(), user.ID)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) joinSession(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	session, err := h.sessions.Join(c.Request.Context(), requester(user), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) endSession(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	session, err := h.sessions.End(c.Request.Context(), requester(user), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "message": interview.MsgSessionEnded})
}

// sessionError writes the status for a lifecycle failure. Dependency and
// unexpected failures are logged and answered without detail.
func (h *Handler) sessionError(c *gin.Context, err error) {
	var status int
	switch interview.KindOf(err) {
	case interview.KindValidation, interview.KindInvalidTransition:
		status = http.StatusBadRequest
	case interview.KindNotFound:
		status = http.StatusNotFound
	case interview.KindPermission:
		status = http.StatusForbidden
	case interview.KindConflict:
		status = http.StatusConflict
		if h.opts.SessionFullNotFound {
			status = http.StatusNotFound
		}
	default:
		logger.Logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("session request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": interview.MsgDependencyFailure})
		return
	}
	var lerr *interview.Error
	errors.As(err, &lerr)
	c.JSON(status, gin.H{"message": lerr.Message})
}
