package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// Signature markers checked in priority order: the dedicated capture client
// beats a generic mobile OS, which beats the fallback category.
const (
	captureMarker = "TrafficCapture"

	categoryCapture = "android"
	categoryMobile  = "mobile"
	categoryDefault = "device"
)

var mobileMarkers = []string{"Android", "iPhone", "iPad", "iOS"}

// Normalizer converts raw flows from the interception collaborator into
// canonical traffic records. It holds no per-flow state; identity derivation
// is a pure function of the flow's signature and IP.
type Normalizer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewNormalizer creates a new Normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{
		logger: logger.With("component", "normalizer"),
		now:    time.Now,
	}
}

// Normalize builds one TrafficRecord from a raw flow. A flow without an
// observed response is still recorded, with a zero status; a flow missing
// its client endpoint or URL is malformed and rejected.
func (n *Normalizer) Normalize(flow *domain.RawFlow) (*domain.TrafficRecord, error) {
	if flow == nil {
		return nil, &domain.NormalizationError{Reason: "nil flow"}
	}
	if flow.ClientIP == "" {
		return nil, &domain.NormalizationError{Reason: "missing client IP"}
	}
	if flow.URL == "" {
		return nil, &domain.NormalizationError{Reason: "missing request URL"}
	}

	status := 0
	if flow.HasResponse {
		status = flow.ResponseStatus
	} else {
		n.logger.Debug("flow without response, recording with zero status",
			"url", flow.URL, "client_ip", flow.ClientIP)
	}

	return &domain.TrafficRecord{
		Timestamp:       n.now().UTC(),
		DeviceID:        DeviceID(flow.ClientSignature, flow.ClientIP),
		Method:          flow.Method,
		URL:             flow.URL,
		Host:            flow.Host,
		RequestHeaders:  headerMap(flow.RequestHeaders),
		RequestBody:     SafeText(flow.RequestBody),
		ResponseStatus:  status,
		ResponseHeaders: headerMap(flow.ResponseHeaders),
		ResponseBody:    SafeText(flow.ResponseBody),
	}, nil
}

// DeviceID derives the stable device identity for a client. It is a pure
// function of (signature, ip): identical inputs always group under the same
// identity, which is how repeated flows from one physical client correlate
// without an explicit registration step.
func DeviceID(signature, ip string) string {
	category := categoryDefault
	switch {
	case strings.Contains(signature, captureMarker):
		category = categoryCapture
	case hasMobileMarker(signature):
		category = categoryMobile
	}
	return category + "_" + sanitizeAddr(ip)
}

func hasMobileMarker(signature string) bool {
	for _, marker := range mobileMarkers {
		if strings.Contains(signature, marker) {
			return true
		}
	}
	return false
}

// sanitizeAddr replaces every non-alphanumeric rune so the address is safe
// as an identifier segment ("1.2.3.4" -> "1_2_3_4").
func sanitizeAddr(addr string) string {
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SafeText renders a payload as storable text, capped at domain.BodyLimit
// bytes. Mostly-text payloads keep their decodable runs with U+FFFD standing
// in for invalid sequences; payloads that are not meaningfully decodable
// collapse to a placeholder naming the original byte length. Never panics;
// this sits on the ingestion hot path.
func SafeText(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	if !utf8.Valid(payload) {
		if !mostlyText(payload) {
			return fmt.Sprintf("<Binary data: %d bytes>", len(payload))
		}
		payload = []byte(strings.ToValidUTF8(string(payload), "�"))
	}
	return truncate(string(payload), domain.BodyLimit)
}

// mostlyText reports whether at least half of the payload decodes as UTF-8
// and no NUL bytes are present. Below that, replacement would produce noise
// rather than text.
func mostlyText(payload []byte) bool {
	valid := 0
	for i := 0; i < len(payload); {
		r, size := utf8.DecodeRune(payload[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r == 0 {
			return false
		}
		valid += size
		i += size
	}
	return valid*2 >= len(payload)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// headerMap flattens ordered wire headers into a last-value-wins mapping.
func headerMap(fields []domain.HeaderField) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}
