package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yunze7373/traffic-tool/internal/adapter/normalize"
	"github.com/yunze7373/traffic-tool/internal/adapter/registry"
	"github.com/yunze7373/traffic-tool/internal/domain"
	"github.com/yunze7373/traffic-tool/internal/domain/mocks"
)

func validFlow() *domain.RawFlow {
	return &domain.RawFlow{
		ClientIP:        "1.2.3.4",
		ClientSignature: "TrafficCapture/1.0",
		Method:          "GET",
		URL:             "http://x.com/a",
		Host:            "x.com",
		HasResponse:     true,
		ResponseStatus:  200,
	}
}

func newTestCoordinator(repo domain.TrafficRepository, wal domain.WALRepository) (*IngestTrafficUseCase, *registry.Registry, *StatusAggregator) {
	logger := testLogger()
	reg := registry.New(logger, nil)
	agg := NewStatusAggregator(reg)
	broadcaster := NewBroadcastUseCase(reg, logger, nil, time.Second)
	uc := NewIngestTrafficUseCase(normalize.NewNormalizer(logger), repo, wal, broadcaster, agg, nil, logger, 16)
	return uc, reg, agg
}

func TestIngest_SuccessfulFlow(t *testing.T) {
	repo := &mocks.MockTrafficRepository{}
	uc, reg, agg := newTestCoordinator(repo, nil)

	sub := &mocks.MockSubscriber{SubID: "viewer"}
	reg.Add(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go uc.Run(ctx)

	if err := uc.Ingest(ctx, validFlow()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if repo.AppendCount() != 1 {
		t.Errorf("expected exactly 1 append, got %d", repo.AppendCount())
	}
	if repo.AppendedRecords[0].DeviceID != "android_1_2_3_4" {
		t.Errorf("unexpected device id %q", repo.AppendedRecords[0].DeviceID)
	}
	if got := agg.Snapshot().Ingested; got != 1 {
		t.Errorf("expected ingested count 1, got %d", got)
	}

	// The record reaches the subscriber via the fanout queue.
	deadline := time.Now().Add(2 * time.Second)
	for sub.Delivered() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.Delivered() != 1 {
		t.Errorf("expected 1 delivery, got %d", sub.Delivered())
	}
}

func TestIngest_NormalizationFailureDropsFlow(t *testing.T) {
	repo := &mocks.MockTrafficRepository{}
	uc, _, agg := newTestCoordinator(repo, nil)

	err := uc.Ingest(context.Background(), &domain.RawFlow{URL: "http://x.com"})
	if err == nil {
		t.Fatal("expected an error for a flow without a client IP")
	}
	var nerr *domain.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NormalizationError, got %T", err)
	}

	// No partial side effects: nothing persisted, nothing counted.
	if repo.AppendCount() != 0 {
		t.Errorf("expected no appends, got %d", repo.AppendCount())
	}
	if got := agg.Snapshot().Ingested; got != 0 {
		t.Errorf("expected ingested count 0, got %d", got)
	}
}

func TestIngest_StoreFailureIsNonFatal(t *testing.T) {
	repo := &mocks.MockTrafficRepository{
		AppendErr: &domain.StoreError{Op: "append", Err: errors.New("disk full")},
	}
	walRepo := &mocks.MockWALRepository{}
	uc, reg, agg := newTestCoordinator(repo, walRepo)

	sub := &mocks.MockSubscriber{SubID: "viewer"}
	reg.Add(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go uc.Run(ctx)

	if err := uc.Ingest(ctx, validFlow()); err != nil {
		t.Fatalf("store failure must not surface to the collaborator, got %v", err)
	}

	// The record is parked in the WAL and still fanned out and counted.
	if len(walRepo.WrittenRecords) != 1 {
		t.Errorf("expected 1 WAL record, got %d", len(walRepo.WrittenRecords))
	}
	if got := agg.Snapshot().Ingested; got != 1 {
		t.Errorf("expected ingested count 1, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.Delivered() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.Delivered() != 1 {
		t.Errorf("expected broadcast despite store failure, got %d deliveries", sub.Delivered())
	}
}

func TestIngest_ReplayWAL(t *testing.T) {
	repo := &mocks.MockTrafficRepository{}
	walRepo := &mocks.MockWALRepository{}
	uc, _, _ := newTestCoordinator(repo, walRepo)

	rec := &domain.TrafficRecord{DeviceID: "device_1_2_3_4", URL: "http://x.com/parked"}
	if err := walRepo.Write(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed WAL: %v", err)
	}

	if err := uc.ReplayWAL(context.Background()); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if repo.AppendCount() != 1 {
		t.Errorf("expected replayed record in store, got %d appends", repo.AppendCount())
	}
	if !walRepo.Truncated {
		t.Error("expected WAL to be truncated after successful replay")
	}
}

func TestIngest_ReplayWALStopsOnStoreError(t *testing.T) {
	repo := &mocks.MockTrafficRepository{
		AppendErr: &domain.StoreError{Op: "append", Err: errors.New("still down")},
	}
	walRepo := &mocks.MockWALRepository{}
	uc, _, _ := newTestCoordinator(repo, walRepo)

	if err := walRepo.Write(context.Background(), &domain.TrafficRecord{DeviceID: "d", URL: "u"}); err != nil {
		t.Fatalf("failed to seed WAL: %v", err)
	}

	if err := uc.ReplayWAL(context.Background()); err == nil {
		t.Fatal("expected replay to fail while the store is down")
	}
	if walRepo.Truncated {
		t.Error("WAL must not be truncated after a failed replay")
	}
}
