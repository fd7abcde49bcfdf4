package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"intervue/internal/auth"
	"intervue/internal/logger"
	"intervue/internal/models"
	"intervue/internal/realtime"
	"intervue/internal/service/account"
	"intervue/internal/service/interview"
)

// Options carries switches that change the wire contract.
type Options struct {
	// SessionFullNotFound answers a join on a full session with 404 instead of 409.
	SessionFullNotFound bool
}

// Handler wires HTTP routes to the account, auth and interview services.
type Handler struct {
	accounts *account.Service
	auth     *auth.Service
	sessions *interview.Service
	tokens   realtime.TokenIssuer
	opts     Options
}

// NewHandler constructs a Handler instance.
func NewHandler(accounts *account.Service, authService *auth.Service, sessions *interview.Service, tokens realtime.TokenIssuer, opts Options) *Handler {
	return &Handler{
		accounts: accounts,
		auth:     authService,
		sessions: sessions,
		tokens:   tokens,
		opts:     opts,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	protected := api.Group("")
	protected.Use(h.auth.Middleware(h.accounts), h.auth.CSRFMiddleware())
	protected.GET("/users/me", h.me)
	protected.POST("/users/logout", h.logoutUser)
	protected.DELETE("/users/me", h.deleteUser)
	protected.GET("/chat/token", h.chatToken)

	sessions := protected.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/active", h.activeSessions)
	sessions.GET("/my-recent", h.myRecentSessions)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/join", h.joinSession)
	sessions.POST("/:id/end", h.endSession)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "API is up & running..."})
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return user, true
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password, req.Name, req.ProfileImage)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidInput), errors.Is(err, account.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, account.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Logger.WithError(err).Error("register user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		}
		return
	}
	c.JSON(http.StatusCreated, user)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		logger.Logger.WithError(err).Error("login user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		logger.Logger.WithError(err).WithField("user_id", user.ID).Error("issue auth token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) me(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			logger.Logger.WithError(err).Warn("revoke token on logout")
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.accounts.EnsureDeletable(ctx, user.ID); err != nil {
		h.accountError(c, err)
		return
	}
	if err := h.auth.RevokeUserTokens(ctx, user.ID); err != nil {
		h.accountError(c, err)
		return
	}
	if err := h.accounts.DeleteUser(ctx, user.ID); err != nil {
		h.accountError(c, err)
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) accountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, account.ErrInActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		logger.Logger.WithError(err).Error("delete user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}

func (h *Handler) chatToken(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	token, expires, err := h.tokens.UserToken(user.RealtimeID)
	if err != nil {
		logger.Logger.WithError(err).WithField("user_id", user.ID).Error("issue realtime token")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    user.RealtimeID,
		"user_name":  user.Name,
		"user_image": user.ProfileImage,
		"api_key":    h.tokens.APIKey(),
		"expires_at": expires,
	})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
