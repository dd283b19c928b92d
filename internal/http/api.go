package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"report-ledger/internal/backend"
	"report-ledger/internal/domain"
	"report-ledger/internal/reports"
	"report-ledger/internal/session"
)

// Handler wires HTTP routes to the session manager and report client.
// It is the presentation boundary: user intents come in, principal,
// report list, and transient alerts go out.
type Handler struct {
	sessions   session.Manager
	reports    *reports.Client
	configured bool
	logger     *logrus.Logger
}

func NewHandler(sessions session.Manager, reportClient *reports.Client, configured bool, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		sessions:   sessions,
		reports:    reportClient,
		configured: configured,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/auth/signup", h.signUp)
		api.POST("/auth/signin", h.signIn)
		api.POST("/auth/signout", h.signOut)
		api.GET("/session", h.currentSession)
		api.GET("/reports", h.listReports)
		api.POST("/reports", h.createReport)
		api.PATCH("/reports/:id", h.updateReport)
		api.DELETE("/reports/:id", h.deleteReport)
		api.GET("/health", h.health)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type reportRequest struct {
	ReportAt    string `json:"report_at"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type PrincipalResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	Privileged bool   `json:"privileged"`
}

type ReportResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	ReportAt    string  `json:"report_at"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
	OwnerEmail  string  `json:"owner_email,omitempty"`
	CanMutate   bool    `json:"can_mutate"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, alert("error", err.Error()))
		return
	}

	if err := h.sessions.SignUp(c.Request.Context(), req.Email, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, alert("success", "account created; a verification email is sent if enabled"))
}

func (h *Handler) signIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, alert("error", err.Error()))
		return
	}

	principal, err := h.sessions.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := alert("success", "signed in")
	resp["principal"] = principalToResponse(principal)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) signOut(c *gin.Context) {
	// idempotent: succeeds whether or not a session exists
	if err := h.sessions.SignOut(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert("success", "signed out"))
}

func (h *Handler) currentSession(c *gin.Context) {
	principal := h.sessions.Principal()
	if principal == nil {
		c.JSON(http.StatusOK, gin.H{"principal": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principalToResponse(principal)})
}

func (h *Handler) listReports(c *gin.Context) {
	principal := h.sessions.Principal()

	list, err := h.reports.List(c.Request.Context(), principal)
	if err != nil {
		respondError(c, err)
		return
	}

	_, state, _ := h.reports.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"reports": reportsToResponse(principal, list),
		"state":   state,
	})
}

func (h *Handler) createReport(c *gin.Context) {
	principal := h.sessions.Principal()
	if principal == nil {
		c.JSON(http.StatusUnauthorized, alert("error", "sign in first"))
		return
	}

	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, alert("error", err.Error()))
		return
	}

	created, err := h.reports.Create(c.Request.Context(), principal, domain.ReportInput{
		ReportAt:    req.ReportAt,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := alert("success", "report created")
	resp["report"] = reportToResponse(principal, created)
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) updateReport(c *gin.Context) {
	principal := h.sessions.Principal()
	if principal == nil {
		c.JSON(http.StatusUnauthorized, alert("error", "sign in first"))
		return
	}

	id := c.Param("id")
	if !h.mutable(principal, id) {
		c.JSON(http.StatusForbidden, alert("error", "report belongs to another user"))
		return
	}

	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, alert("error", err.Error()))
		return
	}

	if err := h.reports.Update(c.Request.Context(), principal, id, domain.ReportInput{
		ReportAt:    req.ReportAt,
		Amount:      req.Amount,
		Description: req.Description,
	}); err != nil {
		respondError(c, err)
		return
	}

	// the view is refreshed after a successful update
	if _, err := h.reports.List(c.Request.Context(), principal); err != nil {
		h.logger.Warnf("refresh reports after update: %v", err)
	}
	c.JSON(http.StatusOK, alert("success", "report updated"))
}

func (h *Handler) deleteReport(c *gin.Context) {
	principal := h.sessions.Principal()
	if principal == nil {
		c.JSON(http.StatusUnauthorized, alert("error", "sign in first"))
		return
	}

	id := c.Param("id")
	if !h.mutable(principal, id) {
		c.JSON(http.StatusForbidden, alert("error", "report belongs to another user"))
		return
	}

	if err := h.reports.Remove(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	resp := alert("success", "report deleted")
	resp["deleted"] = id
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "configured": h.configured})
}

// mutable gates edit/delete affordances. It is evaluated per request
// against the cached view and never trusted for security: a record not
// in the cache passes through, and the backend's row-level rules have
// the final word either way.
func (h *Handler) mutable(p *domain.Principal, id string) bool {
	view, _, _ := h.reports.Snapshot()
	for _, r := range view {
		if r.ID == id {
			return domain.CanMutate(p, r)
		}
	}
	return true
}

func alert(kind, message string) gin.H {
	return gin.H{"alert": gin.H{"type": kind, "message": message}}
}

// respondError converts component errors into transient notifications;
// no error terminates the process.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch e := err.(type) {
	case *backend.AuthError:
		status = http.StatusUnauthorized
	case *backend.BackendError:
		if e.Status >= 400 {
			status = e.Status
		}
	default:
		if errors.Is(err, backend.ErrUnconfigured) {
			status = http.StatusServiceUnavailable
		} else if errors.Is(err, reports.ErrNoPrincipal) {
			status = http.StatusUnauthorized
		}
	}
	c.JSON(status, alert("error", err.Error()))
}

func principalToResponse(p *domain.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:         p.ID,
		Email:      p.Email,
		Role:       p.Role,
		Privileged: p.Privileged,
	}
}

func reportToResponse(p *domain.Principal, r domain.Report) ReportResponse {
	resp := ReportResponse{
		ID:          r.ID,
		UserID:      r.UserID,
		ReportAt:    r.ReportAt.Format(time.RFC3339),
		Amount:      r.Amount,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		CanMutate:   domain.CanMutate(p, r),
	}
	if p != nil && p.Privileged {
		resp.OwnerEmail = r.OwnerEmail
	}
	return resp
}

func reportsToResponse(p *domain.Principal, list []domain.Report) []ReportResponse {
	resp := make([]ReportResponse, len(list))
	for i := range list {
		resp[i] = reportToResponse(p, list[i])
	}
	return resp
}
