package idbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAuditDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{Action: "login", SessionID: string(rune('a' + i))})
	}
	d.Close()

	events := sink.byAction("login")
	if len(events) != 5 {
		t.Fatalf("delivered = %d, want 5", len(events))
	}
	for i, e := range events {
		if e.SessionID != string(rune('a'+i)) {
			t.Fatalf("event %d out of order: %q", i, e.SessionID)
		}
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest
	// must be dropped rather than block the caller.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), AuditEvent{Action: "burst"})
	}
	close(block)
	d.Close()

	if dropped := d.Dropped(); dropped == 0 {
		t.Fatal("no events counted as dropped")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.release
}

func TestAuditDisabledIsNil(t *testing.T) {
	if d := newAuditDispatcher(AuditConfig{Enabled: false}, nil); d != nil {
		t.Fatal("disabled config produced a dispatcher")
	}

	// Nil dispatcher methods are safe no-ops.
	var d *auditDispatcher
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Action:    "password_login",
		UserID:    "u-1",
		Success:   true,
		Metadata:  map[string]string{"new_user": "false"},
	})
	sink.Emit(context.Background(), AuditEvent{Action: "logout", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if event.Action != "password_login" || event.UserID != "u-1" || !event.Success {
		t.Fatalf("decoded event = %+v", event)
	}
	if event.Metadata["new_user"] != "false" {
		t.Fatalf("metadata = %+v", event.Metadata)
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(2)

	sink.Emit(context.Background(), AuditEvent{Action: "first"})
	sink.Emit(context.Background(), AuditEvent{Action: "second"})

	if got := (<-sink.Events()).Action; got != "first" {
		t.Fatalf("first event = %q", got)
	}
	if got := (<-sink.Events()).Action; got != "second" {
		t.Fatalf("second event = %q", got)
	}

	// A full channel with a dead context gives up instead of blocking.
	sink.Emit(context.Background(), AuditEvent{Action: "fill-1"})
	sink.Emit(context.Background(), AuditEvent{Action: "fill-2"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, AuditEvent{Action: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a canceled context")
	}
}
