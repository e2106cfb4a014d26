package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSender struct {
	delivered atomic.Int32
	failUntil int32
	latency   time.Duration
}

func (f *fakeSender) Deliver(ctx context.Context, n *Notification) error {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failUntil > 0 && f.delivered.Load() < f.failUntil {
		f.delivered.Add(1)
		return errors.New("channel unavailable")
	}
	f.delivered.Add(1)
	return nil
}

func TestProcessorHandlesConcurrentNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	sender := &fakeSender{latency: 5 * time.Millisecond}

	service := NewService(store, queue)
	processor := NewProcessor(sender, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		n := &Notification{
			UserID: "u1",
			Kind:   KindReminder,
			Title:  "Upcoming event",
			Body:   fmt.Sprintf("event %d starts soon", i),
		}
		if err := service.Enqueue(ctx, n); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(sender.delivered.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("notifications not processed in time, delivered %d", sender.delivered.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesFailedDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	sender := &fakeSender{failUntil: 2}

	service := NewService(store, queue)
	processor := NewProcessor(sender, store, queue, queue, WithWorkerCount(2))

	go func() {
		_ = processor.Start(ctx)
	}()

	n := &Notification{UserID: "u1", Kind: KindBriefing, Title: "Daily briefing", Body: "two meetings", MaxRetries: 5}
	if err := service.Enqueue(ctx, n); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := store.Get(ctx, n.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status == StatusDelivered {
			if got.Attempts < 3 {
				t.Fatalf("expected at least 3 attempts, got %d", got.Attempts)
			}
			cancel()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("notification never delivered: %+v", got)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorStopsAfterRetriesExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	sender := &fakeSender{failUntil: 100}

	service := NewService(store, queue)
	processor := NewProcessor(sender, store, queue, queue, WithWorkerCount(1))

	go func() {
		_ = processor.Start(ctx)
	}()

	n := &Notification{UserID: "u1", Kind: KindReminder, Title: "Upcoming event", Body: "starts soon", MaxRetries: 2}
	if err := service.Enqueue(ctx, n); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := store.Get(ctx, n.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status == StatusFailed && got.Attempts >= got.MaxRetries {
			cancel()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("notification should end up failed: %+v", got)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestServiceEnqueueDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue)
	ctx := context.Background()

	first := &Notification{UserID: "u1", Kind: KindReminder, Body: "starts soon", DedupeKey: "reminder:e1:100"}
	if err := service.Enqueue(ctx, first); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	second := &Notification{UserID: "u1", Kind: KindReminder, Body: "starts soon", DedupeKey: "reminder:e1:100"}
	if err := service.Enqueue(ctx, second); err != nil {
		t.Fatalf("duplicate enqueue should be silent: %v", err)
	}

	list, err := store.List(ctx, ListOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single notification, got %d", len(list))
	}
}
