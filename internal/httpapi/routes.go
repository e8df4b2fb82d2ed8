package httpapi

import (
	"net/http"

	"telecom-keeper/internal/auth"
	"telecom-keeper/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Mount wires the control API onto r. ws, when non-nil, serves /v1/ws.
// Keep this free of business logic.
func (h Handlers) Mount(r gin.IRouter, ws http.Handler) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	if h.IssueTokens {
		v1.POST("/auth/token", h.IssueToken)
	}

	api := v1.Group("")
	api.Use(auth.RequireAccessToken(h.Auth))
	read := RequireStationAndAnyRole(h.StationID, rbac.RoleViewer, rbac.RoleOperator)
	write := RequireStationAndAnyRole(h.StationID, rbac.RoleOperator)

	proc := api.Group("/processing")
	{
		proc.GET("", append(read, h.GetProcessing)...)
		proc.POST("/start", append(write, h.StartProcessing)...)
		proc.POST("/stop", append(write, h.StopProcessing)...)
	}

	cl := api.Group("/calls")
	cl.Use(read...)
	{
		cl.GET("/history", h.CallHistory)
		cl.GET("/live", h.LiveCalls)
		cl.GET("/summary", h.CallSummary)
	}

	regs := api.Group("/registrations")
	{
		regs.GET("", append(read, h.GetRegistration)...)
		regs.POST("", append(write, h.CreateRegistration)...)
		regs.DELETE("", append(write, h.DestroyRegistration)...)
	}

	// Hidden field_tech is allowed here explicitly; super_admin always is.
	api.GET("/audit", append(RequireStationAndAnyRole(h.StationID, rbac.RoleFieldTech), h.AuditTrail)...)

	if ws != nil {
		api.GET("/ws", append(read, gin.WrapH(ws))...)
	}
}
