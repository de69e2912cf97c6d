package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"factory-dashboard-backend/config"
	"factory-dashboard-backend/internal/dashboard"
	"factory-dashboard-backend/internal/db"
	"factory-dashboard-backend/internal/ingest"
	"factory-dashboard-backend/internal/liveness"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/report"
	"factory-dashboard-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  store.Store
	hub    *notification.Hub
}

func newTestServer(t *testing.T, vapid *webpush.Options) *testServer {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	log := zap.NewNop()
	st := store.NewGormStore(gormDB, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := notification.NewHub(log)
	go hub.Run(ctx)

	h := NewHandler(Deps{
		Store:     st,
		Dashboard: dashboard.NewService(st, dashboard.Options{Location: time.UTC, MaxRows: 1000}, log),
		Ingest:    ingest.NewService(st, hub, time.UTC, log),
		Liveness:  liveness.NewEvaluator(st, hub, liveness.Options{Location: time.UTC}, log),
		Hub:       hub,
		WebPush:   vapid,
		Logger:    log,
	})
	cfg := config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60}
	return &testServer{router: NewRouter(h, cfg, log), store: st, hub: hub}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok","websocket_clients":0}`, string(env.Data))
}

func TestMachines_RegisterAndList(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodPost, "/api/machines", `{"name":"SM73"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = srv.do(t, http.MethodPost, "/api/machines", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decodeEnvelope(t, w).Success)

	w = srv.do(t, http.MethodGet, "/api/machines", "")
	require.Equal(t, http.StatusOK, w.Code)
	var machines []dashboard.MachineView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &machines))
	require.Len(t, machines, 1)
	assert.Equal(t, "SM73", machines[0].Name)
	assert.True(t, machines[0].Online)
}

func TestInsertLog(t *testing.T) {
	srv := newTestServer(t, nil)
	_, err := srv.store.RegisterMachine(context.Background(), "SM73", time.Now())
	require.NoError(t, err)

	testCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"ok", `{"machine_name":"SM73","event":"start shift","comments":"Standard Parts Rate: 1,200 parts"}`, http.StatusCreated},
		{"unknown machine", `{"name":"SM99","event":"start shift"}`, http.StatusNotFound},
		{"blank event", `{"name":"SM73","event":"  "}`, http.StatusBadRequest},
		{"bad timestamp", `{"name":"SM73","event":"x","created_at":"yesterday-ish"}`, http.StatusBadRequest},
		{"malformed body", `{"name":`, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/logs", tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.wantStatus == http.StatusCreated, decodeEnvelope(t, w).Success)
		})
	}

	w := srv.do(t, http.MethodGet, "/api/logs?machine=SM73", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"event":"start shift"`)
}

func TestMachineViews(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := srv.store.RegisterMachine(ctx, "SM73", now)
	require.NoError(t, err)
	_, err = srv.store.InsertLog(ctx, store.NewLog{
		MachineName: "SM73", Event: "auto interval log", IntervalCount: 40, MachineRate: 900,
		Comments: "Standard Parts Rate: 1,200 parts", CreatedAt: now.Add(-time.Second),
	})
	require.NoError(t, err)
	date := now.Format("2006-01-02")

	t.Run("timeline", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM73/timeline?date="+date, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var view dashboard.TimelineView
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &view))
		assert.NotEmpty(t, view.Segments)
		assert.Len(t, view.Markers, 1)
	})

	t.Run("shift", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM73/shift?date="+date, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var view dashboard.ShiftView
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &view))
		require.Len(t, view.Hours, 1)
		assert.Equal(t, int64(40), view.Shift.Produced)
	})

	t.Run("dates", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM73/dates", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `["`+date+`"]`, string(decodeEnvelope(t, w).Data))
	})

	t.Run("report", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM73/report?date="+date, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, report.ContentType, w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), report.Filename("SM73", date))
		assert.NotZero(t, w.Body.Len())
	})

	t.Run("overview", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/overview?date="+date, "")
		require.Equal(t, http.StatusOK, w.Code)
		var ov dashboard.Overview
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &ov))
		assert.Equal(t, 1, ov.Summary.Stations)
	})

	t.Run("bad date", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM73/timeline?date=07-01-2026", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown machine", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/machines/SM99/shift", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCheckTimeouts(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	_, err := srv.store.RegisterMachine(ctx, "fresh", time.Now())
	require.NoError(t, err)
	_, err = srv.store.RegisterMachine(ctx, "stale", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	w := srv.do(t, http.MethodPost, "/api/machine-timeout-check", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rep liveness.Report
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &rep))
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.TimedOut)
	assert.Equal(t, []string{"stale"}, rep.Offline)
}

func TestCache_HitThenFlushOnWrite(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodGet, "/api/machines", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = srv.do(t, http.MethodGet, "/api/machines", "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	srv.do(t, http.MethodPost, "/api/machines", `{"name":"SM73"}`)

	w = srv.do(t, http.MethodGet, "/api/machines", "")
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Contains(t, w.Body.String(), "SM73")
}

func TestSubscriptions(t *testing.T) {
	srv := newTestServer(t, nil)
	_, err := srv.store.RegisterMachine(context.Background(), "SM73", time.Now())
	require.NoError(t, err)
	endpoint := "https://push.example.com/send/abc%3D%3D"

	w := srv.do(t, http.MethodPut, "/api/subscriptions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid request"}`, w.Body.String())

	body := `{"endpoint":"` + endpoint + `","p256dh":"key","auth":"secret","subscribed_machines":["SM73"]}`
	w = srv.do(t, http.MethodPut, "/api/subscriptions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = srv.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"subscribed_machines":["SM73"]}`, string(decodeEnvelope(t, w).Data))

	w = srv.do(t, http.MethodDelete, "/api/subscriptions", `{"endpoint":"`+endpoint+`"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/api/subscriptions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRawQueryParam(t *testing.T) {
	v, found := rawQueryParam("a=1&endpoint=https%3A%2F%2Fx", "endpoint")
	assert.True(t, found)
	assert.Equal(t, "https%3A%2F%2Fx", v)

	_, found = rawQueryParam("a=1", "endpoint")
	assert.False(t, found)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	w := newTestServer(t, nil).do(t, http.MethodGet, "/api/vapid_public_key", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv := newTestServer(t, &webpush.Options{VAPIDPublicKey: "pub"})
	w = srv.do(t, http.MethodGet, "/api/vapid_public_key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"pub"}`, string(decodeEnvelope(t, w).Data))
}

func TestServeWS(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}
