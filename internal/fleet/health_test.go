package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablepress/pressroom/internal/logger"
)

// fakeProber fails or succeeds for every printer according to its flag.
type fakeProber struct {
	mu   sync.Mutex
	fail bool
}

func (f *fakeProber) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeProber) Probe(_ context.Context, _ *Printer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	return nil
}

func waitForStatus(t *testing.T, m *Monitor, reg *Registry, id string, want PrinterStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.Sweep(context.Background())
		p, err := reg.Get(context.Background(), id)
		return err == nil && p.Status == want
	}, 3*time.Second, 10*time.Millisecond, "printer never reached %s", want)
}

func TestMonitorEscalatesToMajorAndTriggersFailover(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	prober := &fakeProber{fail: true}
	monitor := NewMonitor(reg, prober, time.Hour, time.Second, 3, logger.NewNop())

	failed := make(chan string, 1)
	monitor.OnMajorFailure(func(_ context.Context, printerID string) {
		failed <- printerID
	})

	// First failure demotes to ERROR_MINOR; the threshold's worth of
	// consecutive failures escalates to ERROR_MAJOR.
	waitForStatus(t, monitor, reg, p.ID, StatusErrorMinor)
	waitForStatus(t, monitor, reg, p.ID, StatusErrorMajor)

	select {
	case id := <-failed:
		assert.Equal(t, p.ID, id)
	case <-time.After(time.Second):
		t.Fatal("failover hook was not invoked")
	}

	// ERROR_MAJOR printers are no longer probed.
	monitor.Sweep(ctx)
	select {
	case <-failed:
		t.Fatal("failover hook fired again for an already-failed printer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorRestoresMinorOnSuccess(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	prober := &fakeProber{fail: true}
	monitor := NewMonitor(reg, prober, time.Hour, time.Second, 3, logger.NewNop())

	waitForStatus(t, monitor, reg, p.ID, StatusErrorMinor)

	prober.setFail(false)
	waitForStatus(t, monitor, reg, p.ID, StatusActive)

	// The failure streak reset with the successful probe, so a single new
	// failure only demotes to ERROR_MINOR again.
	prober.setFail(true)
	waitForStatus(t, monitor, reg, p.ID, StatusErrorMinor)
	_, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
}

func TestMonitorSkipsInactivePrinters(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))
	require.NoError(t, reg.UpdateStatus(ctx, p.ID, StatusInactive))

	prober := &fakeProber{fail: true}
	monitor := NewMonitor(reg, prober, time.Hour, time.Second, 3, logger.NewNop())

	monitor.Sweep(ctx)
	time.Sleep(50 * time.Millisecond)

	got, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, got.Status)
}
