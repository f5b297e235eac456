package idbroker

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit action vocabulary. Every security-relevant mutation emits exactly
// one of these.
const (
	auditActionOIDCStart           = "oidc_start"
	auditActionOIDCExchange        = "oidc_exchange"
	auditActionIdentityLinked      = "identity_linked"
	auditActionIdentityUnlinked    = "identity_unlinked"
	auditActionPasswordSignup      = "password_signup"
	auditActionPasswordLogin       = "password_login"
	auditActionOTPSend             = "otp_send"
	auditActionOTPVerify           = "otp_verify"
	auditActionRefresh             = "refresh"
	auditActionRefreshReuse        = "refresh_reuse_detected"
	auditActionLogout              = "logout"
	auditActionSessionRevoked      = "session_revoked"
)

// AuditEvent is one immutable security event. Metadata values are ids,
// hashes, and booleans; raw tokens, codes, and passwords never appear here.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives engine audit events. Implementations must be safe for
// concurrent use; slow sinks should buffer internally because a blocking
// sink backpressures the dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a channel for in-process consumers.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit delivers the event or gives up when ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the delivery channel.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink wraps w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit marshals and writes the event. Marshal failures are dropped silently;
// audit must never take down the auth path.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
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
