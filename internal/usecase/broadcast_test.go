package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yunze7373/traffic-tool/internal/adapter/registry"
	"github.com/yunze7373/traffic-tool/internal/domain"
	"github.com/yunze7373/traffic-tool/internal/domain/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func broadcastRecord() *domain.TrafficRecord {
	return &domain.TrafficRecord{
		Timestamp:      time.Now().UTC(),
		DeviceID:       "android_1_2_3_4",
		Method:         "GET",
		URL:            "http://x.com/a",
		ResponseStatus: 200,
	}
}

func TestBroadcast_DeliversToSnapshot(t *testing.T) {
	reg := registry.New(testLogger(), nil)
	uc := NewBroadcastUseCase(reg, testLogger(), nil, time.Second)

	subs := make([]*mocks.MockSubscriber, 3)
	for i := range subs {
		subs[i] = &mocks.MockSubscriber{SubID: fmt.Sprintf("sub-%d", i)}
		reg.Add(subs[i])
	}

	attempts := uc.Broadcast(context.Background(), broadcastRecord())
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	for i, sub := range subs {
		if sub.Delivered() != 1 {
			t.Errorf("subscriber %d: expected 1 delivery, got %d", i, sub.Delivered())
		}
	}
}

func TestBroadcast_NoSubscribers(t *testing.T) {
	reg := registry.New(testLogger(), nil)
	uc := NewBroadcastUseCase(reg, testLogger(), nil, time.Second)

	if attempts := uc.Broadcast(context.Background(), broadcastRecord()); attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", attempts)
	}
}

func TestBroadcast_FailingSubscriberIsRemoved(t *testing.T) {
	reg := registry.New(testLogger(), nil)
	uc := NewBroadcastUseCase(reg, testLogger(), nil, time.Second)

	ok := &mocks.MockSubscriber{SubID: "ok"}
	broken := &mocks.MockSubscriber{SubID: "broken", SendErr: errors.New("connection reset")}
	reg.Add(ok)
	reg.Add(broken)

	attempts := uc.Broadcast(context.Background(), broadcastRecord())
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}

	if reg.Count() != 1 {
		t.Fatalf("expected 1 subscriber after broadcast, got %d", reg.Count())
	}
	for _, sub := range reg.Snapshot() {
		if sub.ID() == "broken" {
			t.Error("failed subscriber still present in snapshot")
		}
	}
	if !broken.Closed {
		t.Error("expected failed subscriber to be closed")
	}
	if ok.Delivered() != 1 {
		t.Errorf("healthy subscriber missed the record: %d deliveries", ok.Delivered())
	}
}

func TestBroadcast_SlowSubscriberTimesOutWithoutBlockingOthers(t *testing.T) {
	reg := registry.New(testLogger(), nil)
	agg := NewStatusAggregator(reg)
	uc := NewBroadcastUseCase(reg, testLogger(), nil, 50*time.Millisecond)

	var healthy []*mocks.MockSubscriber
	for i := 0; i < 5; i++ {
		sub := &mocks.MockSubscriber{SubID: fmt.Sprintf("sub-%d", i)}
		if i == 2 {
			sub.SendDelay = time.Second // hung peer, exceeds the send timeout
		}
		if i != 2 {
			healthy = append(healthy, sub)
		}
		reg.Add(sub)
	}

	start := time.Now()
	attempts := uc.Broadcast(context.Background(), broadcastRecord())
	elapsed := time.Since(start)

	if attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", attempts)
	}
	// Fanout latency is bounded by the send timeout, not the sum of sends.
	if elapsed > 500*time.Millisecond {
		t.Errorf("broadcast took %v, timeout did not bound the hung peer", elapsed)
	}
	for i, sub := range healthy {
		if sub.Delivered() != 1 {
			t.Errorf("healthy subscriber %d missed the record", i)
		}
	}
	if got := agg.Snapshot().ActiveSubscribers; got != 4 {
		t.Errorf("expected 4 active subscribers after the hung peer was removed, got %d", got)
	}
}

func TestBroadcast_LateSubscriberMissesInFlightRecord(t *testing.T) {
	reg := registry.New(testLogger(), nil)
	uc := NewBroadcastUseCase(reg, testLogger(), nil, time.Second)

	early := &mocks.MockSubscriber{SubID: "early"}
	reg.Add(early)

	attempts := uc.Broadcast(context.Background(), broadcastRecord())
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	late := &mocks.MockSubscriber{SubID: "late"}
	reg.Add(late)
	if late.Delivered() != 0 {
		t.Error("subscriber added after the snapshot received the record")
	}
}
