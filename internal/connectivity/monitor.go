// Package connectivity observes whether the attendance service is
// reachable.
//
// The monitor probes the service's health endpoint on a fixed
// interval and publishes coalesced state changes, so the daemon can
// trigger a sync the moment connectivity comes back instead of
// waiting for the next interval tick.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProbeInterval is how often the monitor probes the service.
const DefaultProbeInterval = 15 * time.Second

// Monitor probes a URL and tracks online/offline state.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger

	online  atomic.Bool
	changes chan bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor probing probeURL (typically the
// service's /healthz). interval <= 0 selects DefaultProbeInterval.
func NewMonitor(probeURL string, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		url:      probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 3 * time.Second},
		logger:   logger,
		changes:  make(chan bool, 4),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start probes once immediately to seed the state, then keeps probing
// in the background until Stop (or ctx cancellation).
func (m *Monitor) Start(ctx context.Context) {
	m.online.Store(m.probe(ctx))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.update(m.probe(ctx))
			}
		}
	}()
}

// Stop shuts the monitor down and waits for the probe goroutine.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Changes delivers coalesced state transitions: true when the service
// becomes reachable, false when it goes away. The channel is buffered
// and drops notifications if the receiver lags; state is always
// recoverable via Online.
func (m *Monitor) Changes() <-chan bool {
	return m.changes
}

func (m *Monitor) update(online bool) {
	if m.online.Swap(online) == online {
		return // no transition
	}
	if online {
		m.logger.Printf("Connectivity regained")
	} else {
		m.logger.Printf("Connectivity lost")
	}
	select {
	case m.changes <- online:
	default:
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Any HTTP response proves reachability, even an error status.
	return true
}
