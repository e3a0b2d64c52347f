package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestReconnectFiresDebouncedSync(t *testing.T) {
	var passes int32
	monitor := NewMonitor(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&passes, 1)
		return Result{}, nil
	}, nil, 10*time.Millisecond)

	monitor.SetOnline(true)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&passes) == 1 })

	// Staying online must not fire again: the trigger is the transition,
	// not the state.
	monitor.SetOnline(true)
	monitor.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&passes); got != 1 {
		t.Fatalf("expected exactly one pass while staying online, got %d", got)
	}

	monitor.SetOnline(false)
	monitor.SetOnline(true)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&passes) == 2 })
}

func TestFlappingLinkCancelsPendingSync(t *testing.T) {
	var passes int32
	monitor := NewMonitor(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&passes, 1)
		return Result{}, nil
	}, nil, 50*time.Millisecond)

	// Drop back offline before the debounce window elapses.
	monitor.SetOnline(true)
	time.Sleep(10 * time.Millisecond)
	monitor.SetOnline(false)

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&passes); got != 0 {
		t.Fatalf("expected no pass for a link that flapped, got %d", got)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	monitor := NewMonitor(nil, nil, time.Millisecond)
	ch := monitor.Subscribe()

	monitor.SetOnline(true)
	select {
	case online := <-ch:
		if !online {
			t.Fatalf("expected online transition")
		}
	case <-time.After(time.Second):
		t.Fatalf("no transition received")
	}

	monitor.SetOnline(false)
	select {
	case online := <-ch:
		if online {
			t.Fatalf("expected offline transition")
		}
	case <-time.After(time.Second):
		t.Fatalf("no transition received")
	}
}

func TestTriggerSyncBypassesDebounce(t *testing.T) {
	var passes int32
	monitor := NewMonitor(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&passes, 1)
		return Result{}, nil
	}, nil, time.Hour)

	monitor.TriggerSync()
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&passes) == 1 })
}

func TestTriggerSyncSwallowsBusy(t *testing.T) {
	monitor := NewMonitor(func(ctx context.Context) (Result, error) {
		return Result{}, ErrSyncBusy
	}, nil, time.Millisecond)

	// Must not panic or log-fatal; a busy coordinator simply means the
	// running pass already covers the queue.
	monitor.TriggerSync()
	time.Sleep(20 * time.Millisecond)
}

func TestStableLinkRetriesPendingRecords(t *testing.T) {
	prober := &scriptedProber{}
	prober.online.Store(true)

	var pending atomic.Bool
	pending.Store(true)

	var passes int32
	monitor := NewMonitor(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&passes, 1)
		return Result{}, nil
	}, func(ctx context.Context) bool {
		return pending.Load()
	}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx, prober, 10*time.Millisecond)

	// The link never drops, yet queued records keep getting passes: the
	// first from the initial online edge, the rest from healthy probes.
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&passes) >= 3 })

	// Once the queue drains, a healthy stable link goes quiet again.
	pending.Store(false)
	time.Sleep(50 * time.Millisecond)
	settled := atomic.LoadInt32(&passes)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&passes); got != settled {
		t.Fatalf("expected no passes with an empty queue, got %d more", got-settled)
	}
}

type scriptedProber struct {
	online atomic.Bool
}

func (p *scriptedProber) Health(context.Context) bool {
	return p.online.Load()
}

func TestRunProbesConnectivity(t *testing.T) {
	prober := &scriptedProber{}
	monitor := NewMonitor(nil, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx, prober, 10*time.Millisecond)

	waitFor(t, time.Second, func() bool { return !monitor.Online() })

	prober.online.Store(true)
	waitFor(t, time.Second, func() bool { return monitor.Online() })

	prober.online.Store(false)
	waitFor(t, time.Second, func() bool { return !monitor.Online() })
}
