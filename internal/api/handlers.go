package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docrelay/internal/auth"
	"docrelay/internal/models"
	"docrelay/internal/observability"
	"docrelay/internal/prompt"
	"docrelay/internal/relay"
	"docrelay/internal/render"
	"docrelay/internal/workspace"
)

// Options carries the collaborators a Handler needs.
type Options struct {
	Auth          *auth.Service
	Relay         *relay.Client
	Workspaces    *workspace.Manager
	Renderer      *render.Renderer
	Metrics       *observability.Metrics
	TempDir       string
	ProxyMaxBytes int64
	PublicBaseURL string
}

// Handler wires HTTP routes to the session gate, the prompt editors and the relay.
type Handler struct {
	auth          *auth.Service
	relay         *relay.Client
	workspaces    *workspace.Manager
	renderer      *render.Renderer
	metrics       *observability.Metrics
	tempDir       string
	proxyMaxBytes int64
	allowOrigin   string
	upgrader      websocket.Upgrader
}

// NewHandler constructs a Handler instance. Ending a session drops its workspace.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		auth:          opts.Auth,
		relay:         opts.Relay,
		workspaces:    opts.Workspaces,
		renderer:      opts.Renderer,
		metrics:       opts.Metrics,
		tempDir:       opts.TempDir,
		proxyMaxBytes: opts.ProxyMaxBytes,
		allowOrigin:   "*",
	}
	if origin := originOf(opts.PublicBaseURL); origin != "" {
		h.allowOrigin = origin
	}
	if h.proxyMaxBytes <= 0 {
		h.proxyMaxBytes = 10 << 20
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.auth.OnEnd(func(session *models.Session, reason string) {
		h.workspaces.Purge(session.ID)
	})
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	registerUI(router)
	router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/login", h.login)
	api.GET("/session/ws", h.sessionWS)

	process := api.Group("/process", h.cors())
	process.OPTIONS("", h.preflight)
	process.POST("", h.auth.Middleware(), h.processUpload)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		process.Handle(method, "", methodNotAllowed)
	}

	authed := api.Group("", h.auth.Middleware())
	authed.POST("/logout", h.logout)
	authed.GET("/session", h.currentSession)
	authed.POST("/session/activity", h.activity)

	authed.GET("/prompt", h.getPrompt)
	authed.PUT("/prompt/mode", h.setPromptMode)
	authed.PUT("/prompt/custom", h.editPrompt)
	authed.POST("/prompt/reset", h.resetPrompt)

	authed.GET("/result", h.getResult)
	authed.GET("/result/download", h.downloadResult)
	authed.POST("/result/reset", h.resetResult)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) currentSessionOrAbort(c *gin.Context) (*models.Session, bool) {
	session, ok := auth.SessionFromContext(c)
	if !ok || session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return session, true
}

// Session gate

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	requestLogger(c).Info("session opened", "sessionId", session.ID)
	c.JSON(http.StatusOK, gin.H{
		"token":              session.ID,
		"session":            session,
		"inactivity_seconds": int(h.auth.InactivityTimeout().Seconds()),
	})
}

func (h *Handler) logout(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), session.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentSession(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	window := h.auth.InactivityTimeout()
	c.JSON(http.StatusOK, gin.H{
		"session":            session,
		"inactivity_seconds": int(window.Seconds()),
		"expires_at":         time.Now().UTC().Add(window),
	})
}

func (h *Handler) activity(c *gin.Context) {
	// The auth middleware already recorded this request as activity.
	c.Status(http.StatusNoContent)
}

// Prompt configuration

type modeRequest struct {
	Mode prompt.Mode `json:"mode"`
}

type editRequest struct {
	Text *string `json:"text"`
}

func (h *Handler) getPrompt(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.workspaces.Editor(session.ID).Snapshot())
}

func (h *Handler) setPromptMode(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	editor := h.workspaces.Editor(session.ID)
	if err := editor.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, editor.Snapshot())
}

func (h *Handler) editPrompt(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	editor := h.workspaces.Editor(session.ID)
	if err := editor.Edit(*req.Text); err != nil {
		if errors.Is(err, prompt.ErrReadOnly) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, editor.Snapshot())
}

func (h *Handler) resetPrompt(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	editor := h.workspaces.Editor(session.ID)
	editor.Reset()
	c.JSON(http.StatusOK, editor.Snapshot())
}

// Result rendering

func (h *Handler) getResult(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	snap := h.workspaces.Snapshot(session.ID)
	body := gin.H{"state": snap.State, "file": snap.File}
	if snap.Result != nil {
		body["view"] = h.renderer.Build(snap.Result, fileName(snap))
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) downloadResult(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	snap := h.workspaces.Snapshot(session.ID)
	dl, ok := h.renderer.Download(snap.Result, fileName(snap))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no downloadable result"})
		return
	}
	c.Header("Content-Disposition", attachmentDisposition(dl.Name))
	c.Data(http.StatusOK, dl.ContentType, dl.Data)
}

func (h *Handler) resetResult(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	if err := h.workspaces.Reset(session.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// originOf reduces a base URL to scheme://host[:port], or "" when it has neither.
func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host
}

func fileName(snap workspace.Snapshot) string {
	if snap.File == nil {
		return ""
	}
	return snap.File.Name
}
