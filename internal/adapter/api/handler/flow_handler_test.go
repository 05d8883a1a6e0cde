package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// MockFlowIngestor is a mock implementation of FlowIngestor.
type MockFlowIngestor struct {
	IngestFunc func(ctx context.Context, flow *domain.RawFlow) error
	Flows      []*domain.RawFlow
}

func (m *MockFlowIngestor) Ingest(ctx context.Context, flow *domain.RawFlow) error {
	m.Flows = append(m.Flows, flow)
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, flow)
	}
	return nil
}

func TestFlowHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		contentType    string
		body           string
		ingestErr      error
		expectedStatus int
	}{
		{
			name:           "Valid Flow",
			contentType:    "application/json",
			body:           `{"client_ip":"1.2.3.4","client_signature":"TrafficCapture","method":"GET","url":"http://x.com/a","has_response":true,"response_status":200}`,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Malformed JSON",
			contentType:    "application/json",
			body:           `{"client_ip":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unsupported Content Type",
			contentType:    "text/plain",
			body:           `hello`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "JSON With Charset Parameter",
			contentType:    "application/json; charset=utf-8",
			body:           `{"client_ip":"1.2.3.4","client_signature":"TrafficCapture","method":"GET","url":"http://x.com/a","has_response":true,"response_status":200}`,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Unparseable Content Type",
			contentType:    ";;",
			body:           `{}`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "Normalization Failure",
			contentType:    "application/json",
			body:           `{"url":"http://x.com/a"}`,
			ingestErr:      &domain.NormalizationError{Reason: "missing client IP"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Oversized Payload",
			contentType:    "application/json",
			body:           `{"request_body":"` + strings.Repeat("a", 2048) + `"}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingestor := &MockFlowIngestor{
				IngestFunc: func(ctx context.Context, flow *domain.RawFlow) error {
					return tt.ingestErr
				},
			}
			h := NewFlowHandler(ingestor, logger, 1024)

			req := httptest.NewRequest(http.MethodPost, "/api/flows", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d (%s)", tt.expectedStatus, rr.Code, rr.Body.String())
			}
		})
	}
}
