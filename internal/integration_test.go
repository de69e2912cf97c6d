package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"factory-dashboard-backend/config"
	"factory-dashboard-backend/internal/api"
	"factory-dashboard-backend/internal/dashboard"
	"factory-dashboard-backend/internal/db"
	"factory-dashboard-backend/internal/ingest"
	"factory-dashboard-backend/internal/liveness"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/status"
	"factory-dashboard-backend/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recorder) Publish(_ context.Context, ev notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Reasons() []notification.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Reason, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Reason
	}
	return out
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success, "%s %s returned %d", method, path, resp.StatusCode)
	return out
}

// TestMachineLifecycle registers a machine, feeds it logs over HTTP, reads the
// derived views back and finally lets it time out.
func TestMachineLifecycle(t *testing.T) {
	// --- Test Setup ---
	gormDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(gormDB))

	cfg := config.Default()
	cfg.Location = time.UTC
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	log := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, cfg.Location)
	hub := notification.NewHub(log)
	go hub.Run(ctx)
	rec := &recorder{}
	sinks := notification.Fanout{hub, rec}

	ingestSvc := ingest.NewService(appStore, sinks, cfg.Location, log)
	evaluator := liveness.NewEvaluator(appStore, sinks, liveness.Options{
		Timeout:  cfg.Liveness.Timeout(),
		Grace:    cfg.Liveness.Grace(),
		Location: cfg.Location,
	}, log)
	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Dashboard: dashboard.NewService(appStore, dashboard.Options{Location: cfg.Location, MaxRows: cfg.Logs.MaxRows}, log),
		Ingest:    ingestSvc,
		Liveness:  evaluator,
		Hub:       hub,
		Logger:    log,
	})
	srv := httptest.NewServer(api.NewRouter(handler, cfg.Server, log))
	defer srv.Close()

	// --- Step 1: register and watch over websocket ---
	call(t, srv, http.MethodPost, "/api/machines", `{"name":"SM73"}`)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "machine": "SM73"}))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// --- Step 2: the agent reports a shift start and one interval ---
	// The last report is older than the timeout so the machine goes offline below.
	last := time.Now().UTC().Add(-20 * time.Second).Truncate(time.Second)
	first := last.Add(-time.Minute)
	date := first.Format("2006-01-02")
	if last.Format("2006-01-02") != date {
		t.Skip("logs would straddle midnight")
	}
	call(t, srv, http.MethodPost, "/api/logs",
		`{"machine_name":"SM73","event":"start shift","comments":"Standard Parts Rate: 1,200 parts","created_at":"`+first.Format(time.RFC3339)+`"}`)
	call(t, srv, http.MethodPost, "/api/logs",
		`{"machine":"SM73","event":"auto interval log","interval_count":150,"machine_rate":900,"created_at":`+
			jsonNumber(last.Unix())+`}`)

	// The websocket client sees both logs as machine-update events.
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev notification.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, notification.EventName, ev.Name)
		assert.Equal(t, notification.ReasonLog, ev.Reason)
		assert.Equal(t, "SM73", ev.Machine.Name)
	}

	// --- Step 3: derived views ---
	var tl dashboard.TimelineView
	require.NoError(t, json.Unmarshal(call(t, srv, http.MethodGet, "/api/machines/SM73/timeline?date="+date, "").Data, &tl))
	require.NotEmpty(t, tl.Segments)
	assert.Equal(t, status.Good, tl.Segments[len(tl.Segments)-1].Status, "900 against a 1200 target")
	assert.Len(t, tl.Markers, 1)

	var shift dashboard.ShiftView
	require.NoError(t, json.Unmarshal(call(t, srv, http.MethodGet, "/api/machines/SM73/shift?date="+date, "").Data, &shift))
	assert.Equal(t, int64(150), shift.Shift.Produced)

	// --- Step 4: silence past the timeout turns the machine offline ---
	var rep liveness.Report
	require.NoError(t, json.Unmarshal(call(t, srv, http.MethodPost, "/api/machine-timeout-check", "").Data, &rep))
	assert.Equal(t, []string{"SM73"}, rep.Offline)

	assert.Equal(t, []notification.Reason{
		notification.ReasonRegistered,
		notification.ReasonLog,
		notification.ReasonLog,
		notification.ReasonOffline,
	}, rec.Reasons())

	var machines []dashboard.MachineView
	require.NoError(t, json.Unmarshal(call(t, srv, http.MethodGet, "/api/machines", "").Data, &machines))
	require.Len(t, machines, 1)
	assert.False(t, machines[0].Online)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
