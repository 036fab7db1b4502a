package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"exclusive-orders-backend/internal/event"
	"exclusive-orders-backend/internal/model"
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

// WorkerPool manages a pool of workers that turn lifecycle events into
// courier push notifications. Delivery here is best effort: a courier who
// misses a push still sees the order in the listing.
type WorkerPool struct {
	size    int
	jobs    chan event.Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan event.Event, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Consume feeds the pool from a bus subscription until the context ends.
func (wp *WorkerPool) Consume(ctx context.Context, bus *event.Bus) {
	events, cancel := bus.Subscribe(4 * wp.size)
	defer cancel()
	for {
		select {
		case ev := <-events:
			if ev.Kind == event.KindBecameVisible || ev.Kind == event.KindClaimed {
				wp.Dispatch(ev)
			}
		case <-ctx.Done():
			return
		}
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.process(ctx, ev)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(ev event.Event) {
	wp.jobs <- ev
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan event.Event {
	return wp.jobs
}

func (wp *WorkerPool) process(ctx context.Context, ev event.Event) {
	switch ev.Kind {
	case event.KindBecameVisible:
		wp.notifyDrop(ctx, ev)
	case event.KindClaimed:
		wp.notifyWinner(ctx, ev)
	}
}

// notifyDrop pings every courier whose tier may currently claim the order.
func (wp *WorkerPool) notifyDrop(ctx context.Context, ev event.Event) {
	var order model.Order
	if err := wp.db.WithContext(ctx).First(&order, "id = ?", ev.OrderID).Error; err != nil {
		log.Printf("Error fetching order %s for notification: %v", ev.OrderID, err)
		return
	}

	q := wp.db.WithContext(ctx)
	if order.DiamondRestricted(time.Now().UTC()) {
		q = q.Where("tier = ?", model.TierPremium)
	}

	var subscriptions []model.PushSubscription
	if err := q.Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for order %s: %v", ev.OrderID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d drop notifications for order %s", len(subscriptions), ev.OrderID)
	message := fmt.Sprintf("New exclusive order %s is up for grabs!", ev.OrderID)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, []byte(message))
	}
}

// notifyWinner tells the winning courier the order is theirs.
func (wp *WorkerPool) notifyWinner(ctx context.Context, ev event.Event) {
	if ev.Winner == "" {
		return
	}
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("courier_id = ?", ev.Winner).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for courier %s: %v", ev.Winner, err)
		return
	}

	message := fmt.Sprintf("Order %s is yours. Head to pickup!", ev.OrderID)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, []byte(message))
	}
}

// send delivers a single web push notification.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
