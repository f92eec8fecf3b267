package notify_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"disputeflow/notify"
	"disputeflow/notify/notifytest"
	"disputeflow/obs"
)

func TestMessagesPreferExternalReference(t *testing.T) {
	n := notify.SLAWarning("u1", "d1", "CB-1001")
	if n.Type != notify.TypeSLAWarning || !strings.Contains(n.Message, "#CB-1001") {
		t.Fatalf("unexpected warning: %+v", n)
	}
	b := notify.SLABreach("u2", "d1", "")
	if b.Type != notify.TypeSLABreach || !strings.Contains(b.Message, "#d1") {
		t.Fatalf("unexpected breach: %+v", b)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &notifytest.Recorder{}
	boom := errors.New("smtp down")
	failing := &notifytest.Recorder{Err: boom}

	err := notify.Multi{failing, ok}.Notify(context.Background(), notify.Assigned("u1", "d1", ""))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.Sent()) != 1 {
		t.Fatal("expected healthy emitter to still receive the notification")
	}
}

func TestThrottledRespectsContext(t *testing.T) {
	rec := &notifytest.Recorder{}
	th := notify.NewThrottled(rec, 0.001, 1)

	if err := th.Notify(context.Background(), notify.Assigned("u1", "d1", "")); err != nil {
		t.Fatalf("first notify should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Notify(ctx, notify.Assigned("u1", "d2", "")); err == nil {
		t.Fatal("expected second notify to fail waiting for a token")
	}
	if got := len(rec.Sent()); got != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", got)
	}
}

func TestThrottledUnlimited(t *testing.T) {
	rec := &notifytest.Recorder{}
	th := notify.NewThrottled(rec, 0, 0)
	for i := 0; i < 50; i++ {
		if err := th.Notify(context.Background(), notify.SLABreach("u", "d", "")); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	if got := len(rec.OfType(notify.TypeSLABreach)); got != 50 {
		t.Fatalf("expected 50 breaches, got %d", got)
	}
}

func TestLogEmitterWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	e := notify.NewLogEmitter(obs.NewLoggerTo(&buf, "info"))
	if err := e.Notify(context.Background(), notify.SLAWarning("u1", "d1", "")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"type":"SLA_WARNING"`) || !strings.Contains(out, `"user_id":"u1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
