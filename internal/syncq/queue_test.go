package syncq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

var (
	errOffline = errors.New("offline")
	errDup     = errors.New("duplicate")
	errBad     = errors.New("bad request")
)

func classify(err error) Outcome {
	switch {
	case errors.Is(err, errDup):
		return Applied
	case errors.Is(err, errBad):
		return Rejected
	default:
		return Retry
	}
}

func TestDrainKeepsRetryableCommands(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "nested", "queue.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, key := range []string{"ok", "offline", "dup", "bad"} {
		if err := q.Push(Command{Method: "POST", Path: "/v1/gacha/open", IdempotencyKey: key}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	send := func(_ context.Context, c Command) error {
		switch c.IdempotencyKey {
		case "offline":
			return errOffline
		case "dup":
			return errDup
		case "bad":
			return errBad
		}
		return nil
	}
	report, err := q.Drain(context.Background(), send, classify)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Applied != 2 || len(report.Rejected) != 1 || report.Remaining != 1 {
		t.Fatalf("report %+v", report)
	}
	left, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(left) != 1 || left[0].IdempotencyKey != "offline" || left[0].QueuedAt.IsZero() {
		t.Fatalf("left %+v", left)
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		_ = q.Push(Command{Method: "POST", Path: "/v1/market/bricks/sell", IdempotencyKey: key})
	}
	ctx, cancel := context.WithCancel(context.Background())
	sent := 0
	send := func(context.Context, Command) error {
		sent++
		cancel()
		return nil
	}
	report, err := q.Drain(ctx, send, classify)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
	if sent != 1 || report.Applied != 1 || report.Remaining != 2 {
		t.Fatalf("sent=%d report=%+v", sent, report)
	}
}
