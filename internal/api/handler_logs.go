package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"factory-dashboard-backend/internal/ingest"
)

// ListLogs returns logs in insertion order, optionally for one machine and day.
func (h *Handler) ListLogs(c *gin.Context) {
	machine := c.Query("machine")
	if machine == "" {
		machine = c.Query("machine_name")
	}
	logs, err := h.dash.Logs(c.Request.Context(), machine, c.Query("date"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, logs)
}

// InsertLog records one log from an agent.
func (h *Handler) InsertLog(c *gin.Context) {
	var in ingest.LogInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := h.ingest.Record(c.Request.Context(), in, ingest.SourceAPI)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, entry)
}
