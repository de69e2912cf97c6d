package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"factory-dashboard-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the store the push workers need.
type SubscriptionStore interface {
	SubscriptionsForMachine(ctx context.Context, machineName string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool sends browser push notifications for offline machines. Liveness
// repeats offline events every pass; a machine is pushed once per offline
// episode. The episode ends when the machine reports again, and a new one is
// not pushed until cooldown has passed since then.
type WorkerPool struct {
	size     int
	jobs     chan model.Machine
	store    SubscriptionStore
	webpush  *webpush.Options
	sender   NotificationSender
	pushed   *cache.Cache
	cooldown time.Duration
	log      *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, store SubscriptionStore, webpushOptions *webpush.Options, cooldown time.Duration, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if cooldown < 0 {
		cooldown = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:     size,
		jobs:     make(chan model.Machine, size*16),
		store:    store,
		webpush:  webpushOptions,
		sender:   &WebPushSender{},
		pushed:   cache.New(cache.NoExpiration, 10*time.Minute),
		cooldown: cooldown,
		log:      log.Named("push"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case m := <-wp.jobs:
			wp.sendNotificationsForMachine(ctx, m)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Publish queues a push for the first offline event of an episode. Online
// events close the episode. A full queue drops the push rather than blocking
// the caller.
func (wp *WorkerPool) Publish(_ context.Context, ev Event) error {
	name := ev.Machine.Name
	if ev.Reason != ReasonOffline {
		if ev.Online {
			wp.rearm(name)
		}
		return nil
	}
	// held without expiry until the machine reports again
	if err := wp.pushed.Add(name, struct{}{}, cache.NoExpiration); err != nil {
		return nil
	}
	if !wp.Dispatch(ev.Machine) {
		wp.pushed.Delete(name)
		return fmt.Errorf("push queue full, dropped offline push for %s", name)
	}
	return nil
}

func (wp *WorkerPool) rearm(name string) {
	if _, found := wp.pushed.Get(name); !found {
		return
	}
	if wp.cooldown == 0 {
		wp.pushed.Delete(name)
		return
	}
	wp.pushed.Set(name, struct{}{}, wp.cooldown)
}

// Dispatch enqueues a machine without blocking and reports whether it fit.
func (wp *WorkerPool) Dispatch(m model.Machine) bool {
	select {
	case wp.jobs <- m:
		return true
	default:
		return false
	}
}

func (wp *WorkerPool) sendNotificationsForMachine(ctx context.Context, m model.Machine) {
	subscriptions, err := wp.store.SubscriptionsForMachine(ctx, m.Name)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("machine", m.Name), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending offline push", zap.String("machine", m.Name), zap.Int("subscriptions", len(subscriptions)))
	message := []byte(fmt.Sprintf("Machine %s is offline", m.Name))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, message)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("push send failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
