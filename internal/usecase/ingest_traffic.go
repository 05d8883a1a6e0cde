package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/yunze7373/traffic-tool/internal/adapter/metrics"
	"github.com/yunze7373/traffic-tool/internal/adapter/normalize"
	"github.com/yunze7373/traffic-tool/internal/domain"
)

const defaultQueueSize = 1024

// IngestTrafficUseCase is the entry point for the interception collaborator.
// Each submitted flow moves through normalize, persist, broadcast and count;
// every stage's failure is tolerated independently, so the collaborator never
// sees an error for a flow that normalized. The handoff into the fanout
// context goes through a bounded queue drained by Run, keeping the slow
// subscriber path off the interception callback.
type IngestTrafficUseCase struct {
	normalizer  *normalize.Normalizer
	repo        domain.TrafficRepository
	wal         domain.WALRepository
	broadcaster *BroadcastUseCase
	status      *StatusAggregator
	metrics     *metrics.PipelineMetrics
	logger      *slog.Logger
	queue       chan *domain.TrafficRecord
}

// NewIngestTrafficUseCase creates the coordinator. wal and m may be nil;
// without a WAL, records rejected by the store keep only their live fanout.
func NewIngestTrafficUseCase(
	normalizer *normalize.Normalizer,
	repo domain.TrafficRepository,
	wal domain.WALRepository,
	broadcaster *BroadcastUseCase,
	status *StatusAggregator,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
	queueSize int,
) *IngestTrafficUseCase {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &IngestTrafficUseCase{
		normalizer:  normalizer,
		repo:        repo,
		wal:         wal,
		broadcaster: broadcaster,
		status:      status,
		metrics:     m,
		logger:      logger.With("component", "ingest"),
		queue:       make(chan *domain.TrafficRecord, queueSize),
	}
}

// Ingest processes one raw flow. Only normalization failures are returned;
// persistence and fanout problems are absorbed here so live visibility never
// couples to storage health and vice versa.
func (uc *IngestTrafficUseCase) Ingest(ctx context.Context, flow *domain.RawFlow) error {
	record, err := uc.normalizer.Normalize(flow)
	if err != nil {
		uc.logger.Warn("dropping malformed flow", "error", err)
		uc.countRecord("dropped_normalize")
		return err
	}

	id, err := uc.repo.Append(ctx, record)
	if err != nil {
		uc.logger.Error("failed to persist record, continuing with live fanout",
			"device_id", record.DeviceID, "error", err)
		uc.countRecord("store_error")
		uc.divertToWAL(ctx, record)
	} else {
		record.ID = id
		uc.countRecord("stored")
	}

	select {
	case uc.queue <- record:
	default:
		uc.logger.Warn("fanout queue full, dropping live push", "device_id", record.DeviceID)
		if uc.metrics != nil {
			uc.metrics.FanoutQueueDrops.Inc()
		}
	}

	uc.status.RecordIngested()
	return nil
}

// Run drains the fanout queue until ctx is cancelled. Exactly one Run loop
// should be active; it is the single fanout execution context the ingestion
// path hands off to.
func (uc *IngestTrafficUseCase) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-uc.queue:
			uc.broadcaster.Broadcast(ctx, record)
		}
	}
}

// StartWALReplayer periodically retries appending parked records to the
// store. It returns when ctx is cancelled.
func (uc *IngestTrafficUseCase) StartWALReplayer(ctx context.Context, interval time.Duration) {
	if uc.wal == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !uc.wal.HasPending() {
				uc.setWALActive(false)
				continue
			}
			uc.setWALActive(true)
			if err := uc.ReplayWAL(ctx); err != nil {
				uc.logger.Warn("WAL replay failed, will retry", "error", err)
				continue
			}
			uc.setWALActive(false)
		}
	}
}

// ReplayWAL appends every parked record back to the store and releases the
// replayed segments on success. Records diverted while the replay is running
// are left for the next cycle.
func (uc *IngestTrafficUseCase) ReplayWAL(ctx context.Context) error {
	if uc.wal == nil {
		return nil
	}
	err := uc.wal.Replay(ctx, func(record *domain.TrafficRecord) error {
		_, err := uc.repo.Append(ctx, record)
		return err
	})
	if err != nil {
		return err
	}
	return uc.wal.Truncate(ctx)
}

func (uc *IngestTrafficUseCase) divertToWAL(ctx context.Context, record *domain.TrafficRecord) {
	if uc.wal == nil {
		return
	}
	if err := uc.wal.Write(ctx, record); err != nil {
		uc.logger.Error("failed to write record to WAL, record is lost from storage",
			"device_id", record.DeviceID, "error", err)
		return
	}
	uc.setWALActive(true)
}

func (uc *IngestTrafficUseCase) setWALActive(active bool) {
	if uc.metrics == nil {
		return
	}
	if active {
		uc.metrics.WALActive.Set(1)
	} else {
		uc.metrics.WALActive.Set(0)
	}
}

func (uc *IngestTrafficUseCase) countRecord(status string) {
	if uc.metrics != nil {
		uc.metrics.RecordsTotal.WithLabelValues(status).Inc()
	}
}
