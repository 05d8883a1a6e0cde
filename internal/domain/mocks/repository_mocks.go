package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// MockTrafficRepository is a mock implementation of domain.TrafficRepository
// for testing.
type MockTrafficRepository struct {
	mu              sync.Mutex
	AppendedRecords []domain.TrafficRecord
	QueryResult     []domain.TrafficRecord
	AppendErr       error
	QueryErr        error
	LastQueryDevice string
	LastQueryLimit  int
	nextID          int64
}

func (m *MockTrafficRepository) Append(ctx context.Context, record *domain.TrafficRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return 0, m.AppendErr
	}
	m.nextID++
	rec := *record
	rec.ID = m.nextID
	m.AppendedRecords = append(m.AppendedRecords, rec)
	return m.nextID, nil
}

func (m *MockTrafficRepository) QueryRecent(ctx context.Context, deviceID string, limit int) ([]domain.TrafficRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastQueryDevice = deviceID
	m.LastQueryLimit = limit
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.QueryResult, nil
}

func (m *MockTrafficRepository) Close() error {
	return nil
}

// AppendCount returns the number of records appended so far.
func (m *MockTrafficRepository) AppendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AppendedRecords)
}

// MockSubscriber is a mock implementation of domain.Subscriber for testing.
// SendDelay can simulate a slow or hung peer.
type MockSubscriber struct {
	SubID     string
	SendErr   error
	SendDelay time.Duration

	mu       sync.Mutex
	Payloads [][]byte
	Closed   bool
}

func (m *MockSubscriber) ID() string {
	return m.SubID
}

func (m *MockSubscriber) Send(ctx context.Context, payload []byte) error {
	if m.SendDelay > 0 {
		select {
		case <-time.After(m.SendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payloads = append(m.Payloads, payload)
	return nil
}

func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Delivered returns the number of payloads successfully sent.
func (m *MockSubscriber) Delivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Payloads)
}

// MockWALRepository is a mock implementation of domain.WALRepository for
// testing.
type MockWALRepository struct {
	mu             sync.Mutex
	WrittenRecords []domain.TrafficRecord
	WriteErr       error
	ReplayErr      error
	Truncated      bool
}

func (m *MockWALRepository) Write(ctx context.Context, record *domain.TrafficRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.WrittenRecords = append(m.WrittenRecords, *record)
	return nil
}

func (m *MockWALRepository) Replay(ctx context.Context, handler func(record *domain.TrafficRecord) error) error {
	m.mu.Lock()
	records := make([]domain.TrafficRecord, len(m.WrittenRecords))
	copy(records, m.WrittenRecords)
	err := m.ReplayErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for i := range records {
		if err := handler(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockWALRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WrittenRecords = nil
	m.Truncated = true
	return nil
}

func (m *MockWALRepository) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.WrittenRecords) > 0
}
