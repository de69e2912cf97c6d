package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"factory-dashboard-backend/internal/report"
)

type registerMachineRequest struct {
	Name string `json:"name" binding:"required"`
}

// ListMachines returns every machine with its derived online flag.
func (h *Handler) ListMachines(c *gin.Context) {
	machines, err := h.dash.Machines(c.Request.Context())
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, machines)
}

// RegisterMachine upserts a machine by name.
func (h *Handler) RegisterMachine(c *gin.Context) {
	var req registerMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "name is required")
		return
	}
	m, err := h.ingest.Register(c.Request.Context(), req.Name)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// GetTimeline returns the day's segments for one machine.
func (h *Handler) GetTimeline(c *gin.Context) {
	day, err := h.dash.Day(c.Query("date"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	view, err := h.dash.Timeline(c.Request.Context(), c.Param("name"), day)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// GetShift returns hourly and shift production for one machine.
func (h *Handler) GetShift(c *gin.Context) {
	day, err := h.dash.Day(c.Query("date"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	view, err := h.dash.Shift(c.Request.Context(), c.Param("name"), day)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// GetDates lists the days a machine has logs for.
func (h *Handler) GetDates(c *gin.Context) {
	dates, err := h.dash.Dates(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, dates)
}

// GetReport streams the day's shift report as xlsx.
func (h *Handler) GetReport(c *gin.Context) {
	ctx := c.Request.Context()
	day, err := h.dash.Day(c.Query("date"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	shift, err := h.dash.Shift(ctx, c.Param("name"), day)
	if err != nil {
		h.failErr(c, err)
		return
	}
	tl, err := h.dash.Timeline(ctx, c.Param("name"), day)
	if err != nil {
		h.failErr(c, err)
		return
	}
	data, err := report.Shift(shift, tl)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(shift.Machine, shift.Date)+`"`)
	c.Data(http.StatusOK, report.ContentType, data)
}

// GetOverview returns the factory summary and machine cards.
func (h *Handler) GetOverview(c *gin.Context) {
	day, err := h.dash.Day(c.Query("date"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ov, err := h.dash.Overview(c.Request.Context(), day)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ov)
}

// CheckTimeouts runs one liveness pass now.
func (h *Handler) CheckTimeouts(c *gin.Context) {
	rep, err := h.liveness.CheckOnce(c.Request.Context())
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// Health reports database reachability and connected websocket clients.
func (h *Handler) Health(c *gin.Context) {
	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "database unavailable",
			"data":    gin.H{"status": "degraded", "websocket_clients": clients},
		})
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok", "websocket_clients": clients})
}
