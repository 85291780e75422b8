package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/fablepress/pressroom/internal/logger"
)

// Prober issues a lightweight reachability check against one printer. The
// context carries the probe timeout.
type Prober interface {
	Probe(ctx context.Context, p *Printer) error
}

// FailoverFunc is invoked once per transition into ERROR_MAJOR so the job
// side can recover work assigned to the dead printer.
type FailoverFunc func(ctx context.Context, printerID string)

// Monitor periodically probes ACTIVE and ERROR_MINOR printers, escalating
// status on consecutive failures and restoring on success. A failing probe
// never takes the loop down; each printer's failure is isolated.
type Monitor struct {
	registry  *Registry
	prober    Prober
	log       *logger.Logger
	interval  time.Duration
	timeout   time.Duration
	threshold int
	onMajor   FailoverFunc

	mu       sync.Mutex
	failures map[string]int
	inFlight map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMonitor(registry *Registry, prober Prober, interval, timeout time.Duration, threshold int, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if threshold < 1 {
		threshold = 3
	}
	return &Monitor{
		registry:  registry,
		prober:    prober,
		log:       log,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		failures:  make(map[string]int),
		inFlight:  make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// OnMajorFailure registers the failover hook. Must be called before Start.
func (m *Monitor) OnMajorFailure(fn FailoverFunc) {
	m.onMajor = fn
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sweep(context.Background())

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// Sweep probes every probeable printer once. Printers whose previous probe is
// still outstanding are skipped so no two probes for the same printer overlap.
func (m *Monitor) Sweep(ctx context.Context) {
	printers, err := m.registry.ListAll(ctx)
	if err != nil {
		m.log.Error("health sweep: failed to list printers", "error", err)
		return
	}

	for _, p := range printers {
		if p.Status != StatusActive && p.Status != StatusErrorMinor {
			continue
		}

		m.mu.Lock()
		if m.inFlight[p.ID] {
			m.mu.Unlock()
			continue
		}
		m.inFlight[p.ID] = true
		m.mu.Unlock()

		m.wg.Add(1)
		go func(p *Printer) {
			defer m.wg.Done()
			defer func() {
				m.mu.Lock()
				delete(m.inFlight, p.ID)
				m.mu.Unlock()
			}()
			m.probeOne(ctx, p)
		}(p)
	}
}

func (m *Monitor) probeOne(ctx context.Context, p *Printer) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx, p)
	if err == nil {
		m.recordSuccess(ctx, p)
		return
	}

	m.log.Warn("printer probe failed", "printer_id", p.ID, "printer", p.Name, "error", err)
	m.recordFailure(ctx, p)
}

func (m *Monitor) recordSuccess(ctx context.Context, p *Printer) {
	m.mu.Lock()
	m.failures[p.ID] = 0
	m.mu.Unlock()

	if p.Status == StatusActive {
		return
	}

	if err := m.registry.UpdateStatus(ctx, p.ID, StatusActive); err != nil {
		m.log.Error("failed to restore printer status", "printer_id", p.ID, "error", err)
		return
	}
	m.log.Info("printer restored", "printer_id", p.ID, "printer", p.Name)
}

func (m *Monitor) recordFailure(ctx context.Context, p *Printer) {
	m.mu.Lock()
	m.failures[p.ID]++
	consecutive := m.failures[p.ID]
	m.mu.Unlock()

	next := StatusErrorMinor
	if consecutive >= m.threshold {
		next = StatusErrorMajor
	}

	if next == p.Status {
		return
	}

	if err := m.registry.UpdateStatus(ctx, p.ID, next); err != nil {
		m.log.Error("failed to escalate printer status", "printer_id", p.ID, "error", err)
		return
	}

	m.log.Warn("printer status escalated",
		"printer_id", p.ID, "printer", p.Name,
		"from", string(p.Status), "to", string(next),
		"consecutive_failures", consecutive)

	if next == StatusErrorMajor && m.onMajor != nil {
		m.onMajor(ctx, p.ID)
	}
}
