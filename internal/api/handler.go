package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"factory-dashboard-backend/internal/dashboard"
	"factory-dashboard-backend/internal/ingest"
	"factory-dashboard-backend/internal/liveness"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/store"
)

// Checker runs one liveness pass on demand.
type Checker interface {
	CheckOnce(ctx context.Context) (liveness.Report, error)
}

// Deps are the services the handlers call into.
type Deps struct {
	Store     store.Store
	Dashboard *dashboard.Service
	Ingest    *ingest.Service
	Liveness  Checker
	Hub       *notification.Hub
	WebPush   *webpush.Options
	Logger    *zap.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	dash     *dashboard.Service
	ingest   *ingest.Service
	liveness Checker
	hub      *notification.Hub
	webpush  *webpush.Options
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:    d.Store,
		dash:     d.Dashboard,
		ingest:   d.Ingest,
		liveness: d.Liveness,
		hub:      d.Hub,
		webpush:  d.WebPush,
		log:      log.Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ok writes the success envelope.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail writes the error envelope.
func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// failErr maps domain errors onto status codes. Unexpected errors are logged
// and reported without internals.
func (h *Handler) failErr(c *gin.Context, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrMachineNotFound):
		fail(c, http.StatusNotFound, store.ErrMachineNotFound.Error())
	case errors.Is(err, store.ErrSubscriptionNotFound):
		fail(c, http.StatusNotFound, store.ErrSubscriptionNotFound.Error())
	default:
		h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.Error(err)
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
