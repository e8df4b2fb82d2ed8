package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"telecom-keeper/internal/audit"
	"telecom-keeper/internal/auth"
	"telecom-keeper/internal/calls"
	"telecom-keeper/internal/processing"
	"telecom-keeper/internal/rbac"
	"telecom-keeper/internal/registration"
	"telecom-keeper/internal/telephony"
	"telecom-keeper/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Processing is the supervisor surface the API drives.
type Processing interface {
	Current() processing.State
	StartProcessing(ctx context.Context) error
	StopProcessing(ctx context.Context) error
}

type CallHistory interface {
	Snapshot(after time.Time) []calls.Event
	LiveCalls() []calls.Record
}

type Registrations interface {
	Current() registration.Record
	CreateRegistration(ctx context.Context, acct telephony.Account) error
	DestroyRegistration(ctx context.Context) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth          *auth.Manager
	Processing    Processing
	Calls         CallHistory
	Registrations Registrations
	Audit         *audit.Service

	StationID string
	// IssueTokens enables POST /v1/auth/token. Local environments only.
	IssueTokens bool
	// Ready, when set, gates /healthz on the backing stores.
	Ready func(ctx context.Context) error
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "station_id": h.StationID})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "station_id": h.StationID})
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken mints a token pair for this station.
//
// NOTE: no credential check; it is wired only when IssueTokens is set.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil || !h.IssueTokens {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "token issuance disabled"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, h.StationID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Processing ---

func (h Handlers) GetProcessing(c *gin.Context) {
	c.JSON(http.StatusOK, h.Processing.Current())
}

// StartProcessing answers with the resulting state. A start that ends in
// Failed is reported as 502 with the state as body.
func (h Handlers) StartProcessing(c *gin.Context) {
	h.record(c, "processing start")
	if err := h.Processing.StartProcessing(c.Request.Context()); err != nil {
		logger.FromGin(c).Warn("start processing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": h.Processing.Current()})
		return
	}
	c.JSON(http.StatusOK, h.Processing.Current())
}

func (h Handlers) StopProcessing(c *gin.Context) {
	h.record(c, "processing stop")
	if err := h.Processing.StopProcessing(c.Request.Context()); err != nil {
		logger.FromGin(c).Warn("stop processing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": h.Processing.Current()})
		return
	}
	c.JSON(http.StatusOK, h.Processing.Current())
}

// --- Calls ---

func (h Handlers) CallHistory(c *gin.Context) {
	after, ok := parseAfter(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": nonNil(h.Calls.Snapshot(after))})
}

func (h Handlers) LiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": nonNil(h.Calls.LiveCalls())})
}

func (h Handlers) CallSummary(c *gin.Context) {
	after, ok := parseAfter(c)
	if !ok {
		return
	}
	sum, err := calls.Summarize(h.Calls.Snapshot(after))
	if err != nil {
		// The reconciler never emits an inconsistent history; this is a bug.
		logger.FromGin(c).Error("call history inconsistent", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history inconsistent"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func parseAfter(c *gin.Context) (time.Time, bool) {
	raw := c.Query("after")
	if raw == "" {
		return time.Time{}, true
	}
	after, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "after must be RFC3339"})
		return time.Time{}, false
	}
	return after, true
}

// --- Registrations ---

type registrationRequest struct {
	AOR       string `json:"aor"`
	Registrar string `json:"registrar"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func (h Handlers) GetRegistration(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registrations.Current())
}

func (h Handlers) CreateRegistration(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.record(c, "registration create "+req.AOR)
	err := h.Registrations.CreateRegistration(c.Request.Context(), telephony.Account{
		AOR:       req.AOR,
		Registrar: req.Registrar,
		Username:  req.Username,
		Password:  req.Password,
	})
	if err != nil {
		c.AbortWithStatusJSON(registrationStatus(err), gin.H{"error": err.Error(), "registration": h.Registrations.Current()})
		return
	}
	c.JSON(http.StatusOK, h.Registrations.Current())
}

func (h Handlers) DestroyRegistration(c *gin.Context) {
	h.record(c, "registration destroy")
	if err := h.Registrations.DestroyRegistration(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(registrationStatus(err), gin.H{"error": err.Error(), "registration": h.Registrations.Current()})
		return
	}
	c.JSON(http.StatusOK, h.Registrations.Current())
}

func registrationStatus(err error) int {
	switch {
	case errors.Is(err, registration.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, registration.ErrEngineUnavailable), errors.Is(err, registration.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// --- Audit ---

// AuditTrail lists recent audit events. RBAC: super_admin or field_tech.
func (h Handlers) AuditTrail(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	evs, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("audit read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": nonNil(evs)})
}

// record appends an operator action. Best effort: failures are only logged.
func (h Handlers) record(c *gin.Context, message string) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	id, _ := auth.IdentityFrom(ctx)
	if err := h.Audit.LogOperatorAction(ctx, id.UserID, id.Role, c.ClientIP(), message); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Convenience middleware bundles.

func RequireStationAndAnyRole(stationID string, roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireStation(stationID), rbac.RequireAnyRole(roles...)}
}
