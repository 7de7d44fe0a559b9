package stepauth

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"
)

// MetaKind discriminates the closed set of scalar types an audit metadata
// value may hold.
type MetaKind int

const (
	// MetaKindString holds a string value.
	MetaKindString MetaKind = iota
	// MetaKindInt holds an int64 value.
	MetaKindInt
	// MetaKindFloat holds a float64 value.
	MetaKindFloat
	// MetaKindBool holds a bool value.
	MetaKindBool
)

// MetaValue is a scalar audit metadata value. Keeping the variant set
// closed keeps serialization and display deterministic.
type MetaValue struct {
	kind MetaKind
	str  string
	num  float64
	i    int64
	b    bool
}

// MetaString wraps a string metadata value.
func MetaString(v string) MetaValue { return MetaValue{kind: MetaKindString, str: v} }

// MetaInt wraps an integer metadata value.
func MetaInt(v int64) MetaValue { return MetaValue{kind: MetaKindInt, i: v} }

// MetaFloat wraps a float metadata value.
func MetaFloat(v float64) MetaValue { return MetaValue{kind: MetaKindFloat, num: v} }

// MetaBool wraps a boolean metadata value.
func MetaBool(v bool) MetaValue { return MetaValue{kind: MetaKindBool, b: v} }

// Kind returns the variant held by the value.
func (v MetaValue) Kind() MetaKind { return v.kind }

// String renders the value for display regardless of kind.
func (v MetaValue) String() string {
	switch v.kind {
	case MetaKindInt:
		return strconv.FormatInt(v.i, 10)
	case MetaKindFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case MetaKindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// MarshalJSON encodes the underlying scalar directly.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaKindInt:
		return json.Marshal(v.i)
	case MetaKindFloat:
		return json.Marshal(v.num)
	case MetaKindBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.str)
	}
}

// AuditEvent is an activity record emitted by the engine for
// security-relevant operations.
type AuditEvent struct {
	Timestamp time.Time            `json:"timestamp"`
	EventType string               `json:"event_type"`
	UserID    string               `json:"user_id,omitempty"`
	Success   bool                 `json:"success"`
	Error     string               `json:"error,omitempty"`
	Metadata  map[string]MetaValue `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher. Emit must not block
// indefinitely; the dispatcher already decouples it from request paths.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit implements AuditSink.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel for consumption by the
// embedding application.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit implements AuditSink.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receiving side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink appends one JSON object per event to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit implements AuditSink.
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventSignInSuccess     = "signin_success"
	auditEventSignInFailure     = "signin_failure"
	auditEventSignOut           = "signout"
	auditEventSessionRefreshed  = "session_refreshed"
	auditEventSessionRefreshErr = "session_refresh_failed"
	auditEventOTPSent           = "otp_sent"
	auditEventOTPSendRejected   = "otp_send_rejected"
	auditEventOTPVerified       = "otp_verified"
	auditEventOTPFailure        = "otp_failure"
	auditEventRecoveryGenerated = "recovery_codes_generated"
	auditEventRecoveryUsed      = "recovery_code_used"
	auditEventRecoveryFailure   = "recovery_code_failure"
	auditEventTOTPEnrollStart   = "totp_enroll_started"
	auditEventTOTPEnrolled      = "totp_enrolled"
	auditEventTOTPVerified      = "totp_verified"
	auditEventTOTPDisabled      = "totp_disabled"
	auditEventTOTPFailure       = "totp_failure"
	auditEventPasswordReset     = "password_reset_requested"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID string, opErr error, meta func() map[string]MetaValue) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		Success:   success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}

	e.audit.Dispatch(ctx, event)
}
