package liveness

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/parse"
)

var now = time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) string {
	return parse.FormatTimestamp(now.Add(-d), time.UTC)
}

type staticMachines struct {
	machines []model.Machine
	err      error
	block    chan struct{}
	calls    atomic.Int32
}

func (s *staticMachines) ListMachines(ctx context.Context) ([]model.Machine, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.machines, s.err
}

type recorder struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Machine.Name)
	}
	return out
}

func newEvaluator(machines MachineLister, pub notification.Publisher) *Evaluator {
	e := NewEvaluator(machines, pub, Options{Location: time.UTC}, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name    string
		last    string
		want    Verdict
		wantErr bool
	}{
		{"just updated", ago(500 * time.Millisecond), Recent, false},
		{"inside grace", ago(1999 * time.Millisecond), Recent, false},
		{"grace boundary is judged", ago(2 * time.Second), Online, false},
		{"just under timeout", ago(7999 * time.Millisecond), Online, false},
		{"exactly timeout", ago(8 * time.Second), Offline, false},
		{"nine seconds", ago(9 * time.Second), Offline, false},
		{"future timestamp", ago(-time.Minute), Recent, false},
		{"unix seconds", strconv.FormatInt(now.Add(-time.Minute).Unix(), 10), Offline, false},
		{"unix millis", strconv.FormatInt(now.Add(-3*time.Second).UnixMilli(), 10), Online, false},
		{"iso with zone", now.Add(-time.Hour).Format(time.RFC3339), Offline, false},
		{"garbage", "yesterday-ish", Recent, true},
		{"empty", "", Recent, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := Evaluate(tc.last, now, time.UTC, Timeout, Grace)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got, "got %s", got)
		})
	}
}

func TestIsOnline(t *testing.T) {
	assert.True(t, IsOnline(ago(time.Second), now, time.UTC, Timeout))
	assert.True(t, IsOnline(ago(7*time.Second), now, time.UTC, Timeout))
	assert.False(t, IsOnline(ago(8*time.Second), now, time.UTC, Timeout))
	assert.False(t, IsOnline("bad", now, time.UTC, Timeout))
}

func TestCheckOnce_Report(t *testing.T) {
	machines := &staticMachines{machines: []model.Machine{
		{Name: "fresh", LastUpdated: ago(time.Second)},
		{Name: "online", LastUpdated: ago(5 * time.Second)},
		{Name: "SM73", LastUpdated: ago(9 * time.Second)},
		{Name: "broken", LastUpdated: "not-a-time"},
	}}
	pub := &recorder{}
	rep, err := newEvaluator(machines, pub).CheckOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Checked: 4, Online: 1, TimedOut: 1, Skipped: 1, Invalid: 1, Offline: []string{"SM73"}}, rep)
	assert.Equal(t, []string{"SM73"}, pub.Names())
	assert.Equal(t, notification.ReasonOffline, pub.events[0].Reason)
	assert.False(t, pub.events[0].Online)
}

func TestCheckOnce_LevelSignalEveryPass(t *testing.T) {
	machines := &staticMachines{machines: []model.Machine{{Name: "SM73", LastUpdated: ago(9 * time.Second)}}}
	pub := &recorder{}
	e := newEvaluator(machines, pub)

	for i := 0; i < 3; i++ {
		_, err := e.CheckOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"SM73", "SM73", "SM73"}, pub.Names())
}

func TestCheckOnce_PublishFailureDoesNotStopPass(t *testing.T) {
	machines := &staticMachines{machines: []model.Machine{
		{Name: "a", LastUpdated: ago(time.Minute)},
		{Name: "b", LastUpdated: ago(time.Minute)},
	}}
	pub := &recorder{err: errors.New("notifier down")}
	rep, err := newEvaluator(machines, pub).CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TimedOut)
	assert.Equal(t, []string{"a", "b"}, pub.Names())
}

func TestCheckOnce_StoreError(t *testing.T) {
	machines := &staticMachines{err: errors.New("db unreachable")}
	pub := &recorder{}
	_, err := newEvaluator(machines, pub).CheckOnce(context.Background())
	assert.ErrorContains(t, err, "db unreachable")
	assert.Empty(t, pub.Names())
}

func TestCheckOnce_NilPublisher(t *testing.T) {
	machines := &staticMachines{machines: []model.Machine{{Name: "a", LastUpdated: ago(time.Minute)}}}
	rep, err := newEvaluator(machines, nil).CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TimedOut)
}

func TestRun_TicksAndStops(t *testing.T) {
	machines := &staticMachines{machines: []model.Machine{{Name: "SM73", LastUpdated: ago(9 * time.Second)}}}
	pub := &recorder{}
	e := NewEvaluator(machines, pub, Options{Interval: 10 * time.Millisecond, Location: time.UTC}, zap.NewNop())
	e.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(pub.Names()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evaluator did not stop")
	}
}

func TestRun_SkipsTickWhilePassRuns(t *testing.T) {
	machines := &staticMachines{block: make(chan struct{})}
	e := NewEvaluator(machines, nil, Options{Interval: 20 * time.Millisecond, Location: time.UTC}, zap.NewNop())

	e.running.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.Zero(t, machines.calls.Load(), "no pass may start while one is running")
}
