package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/yunze7373/traffic-tool/internal/adapter/metrics"
	"github.com/yunze7373/traffic-tool/internal/domain"
)

const defaultSendTimeout = 2 * time.Second

// BroadcastUseCase fans one record out to every subscriber registered at the
// moment the call starts. Each send runs in its own goroutine with its own
// timeout, so a slow or hung peer bounds only its own delivery; failed
// subscribers are removed from the registry after the attempt pass completes,
// never during iteration.
type BroadcastUseCase struct {
	registry    domain.SubscriberRegistry
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics
	sendTimeout time.Duration
}

// NewBroadcastUseCase creates a new BroadcastUseCase. metrics may be nil.
func NewBroadcastUseCase(registry domain.SubscriberRegistry, logger *slog.Logger, m *metrics.PipelineMetrics, sendTimeout time.Duration) *BroadcastUseCase {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &BroadcastUseCase{
		registry:    registry,
		logger:      logger.With("component", "broadcast"),
		metrics:     m,
		sendTimeout: sendTimeout,
	}
}

// Broadcast serializes the record once and attempts delivery to the snapshot
// taken at call start. Subscribers added afterwards do not receive this
// record; that race is part of the contract. Returns the number of delivery
// attempts.
func (uc *BroadcastUseCase) Broadcast(ctx context.Context, record *domain.TrafficRecord) int {
	payload, err := json.Marshal(record)
	if err != nil {
		uc.logger.Error("failed to marshal record for broadcast", "device_id", record.DeviceID, "error", err)
		return 0
	}

	subs := uc.registry.Snapshot()
	if len(subs) == 0 {
		return 0
	}

	failed := make(chan domain.Subscriber, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.Subscriber) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, uc.sendTimeout)
			defer cancel()

			if err := sub.Send(sendCtx, payload); err != nil {
				uc.logger.Warn("subscriber send failed, scheduling removal",
					"subscriber_id", sub.ID(), "error", err)
				uc.countSend("error")
				failed <- sub
				return
			}
			uc.countSend("ok")
		}(sub)
	}
	wg.Wait()
	close(failed)

	// The registry keeps the active-subscriber gauge current as these
	// removals land.
	for sub := range failed {
		uc.registry.Remove(sub)
		_ = sub.Close()
	}
	return len(subs)
}

func (uc *BroadcastUseCase) countSend(status string) {
	if uc.metrics != nil {
		uc.metrics.BroadcastSendsTotal.WithLabelValues(status).Inc()
	}
}
