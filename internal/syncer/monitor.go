package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Prober reports whether the server is currently reachable.
type Prober interface {
	Health(ctx context.Context) bool
}

// SyncFunc runs one sync pass.
type SyncFunc func(ctx context.Context) (Result, error)

// PendingFunc reports whether the journal still holds records awaiting sync.
type PendingFunc func(ctx context.Context) bool

// Monitor tracks connectivity and fires a sync pass on the offline-to-online
// edge. The trigger is debounced so a flapping link does not hammer the
// server, and edge-triggered so a stable online link does not re-sync in a
// loop. A stable link still retries: each healthy probe fires a pass while
// the journal reports pending records, so a transiently rejected sale does
// not wait for the next disconnect.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	debounce time.Duration
	timer    *time.Timer
	subs     []chan bool
	sync     SyncFunc
	pending  PendingFunc
}

func NewMonitor(sync SyncFunc, pending PendingFunc, debounce time.Duration) *Monitor {
	return &Monitor{
		debounce: debounce,
		sync:     sync,
		pending:  pending,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving every connectivity transition. The
// channel is buffered; a slow subscriber drops transitions rather than
// blocking the monitor.
func (m *Monitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 4)
	m.subs = append(m.subs, ch)
	return ch
}

// SetOnline records a connectivity observation. Only transitions have any
// effect; repeated observations of the same state are no-ops. Going online
// schedules a debounced sync; going offline cancels a not-yet-fired one.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)

	if online {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = time.AfterFunc(m.debounce, m.fireSync)
	} else if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	log.Printf("[monitor] connectivity changed online=%t", online)
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// TriggerSync requests an immediate pass, bypassing the debounce. Used by the
// terminal's manual "sync now" signal. A busy coordinator means a pass is
// already covering the queue, so the request is dropped.
func (m *Monitor) TriggerSync() {
	go m.fireSync()
}

func (m *Monitor) fireSync() {
	if m.sync == nil {
		return
	}
	if _, err := m.sync(context.Background()); err != nil {
		if errors.Is(err, ErrSyncBusy) {
			return
		}
		log.Printf("[monitor] sync pass failed: %v", err)
	}
}

// Run probes connectivity on a fixed interval until the context is done.
// Besides feeding SetOnline, each healthy probe on an already-online link
// retries the queue if anything is still pending, so records rejected in an
// earlier pass converge without a connectivity edge.
func (m *Monitor) Run(ctx context.Context, prober Prober, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.SetOnline(prober.Health(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := prober.Health(ctx)
			stable := healthy && m.Online()
			m.SetOnline(healthy)
			if stable && m.pending != nil && m.pending(ctx) {
				m.fireSync()
			}
		}
	}
}
