package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"go.uber.org/zap"
)

type flakyRelay struct {
	calls  int
	cancel context.CancelFunc
}

func (f *flakyRelay) Relay(ctx context.Context, hub *sse.Hub) error {
	f.calls++
	switch f.calls {
	case 1:
		return errors.New("connection refused")
	case 2:
		// 订阅通道被关闭
		return nil
	default:
		f.cancel()
		return nil
	}
}

func TestRunRelayRetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &flakyRelay{cancel: cancel}

	if err := runRelay(ctx, r, nil, zap.NewNop(), time.Millisecond); err != nil {
		t.Fatalf("runRelay returned %v", err)
	}
	if r.calls != 3 {
		t.Errorf("relay calls = %d, want 3", r.calls)
	}
}

func TestRunRelayStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &flakyRelay{cancel: cancel}

	done := make(chan error, 1)
	go func() { done <- runRelay(ctx, r, nil, zap.NewNop(), time.Hour) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRelay returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runRelay did not stop on cancel")
	}
}
