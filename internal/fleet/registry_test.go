package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))
	require.NotEmpty(t, p.ID)
	assert.Equal(t, StatusActive, p.Status)

	got, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "press-a", got.Name)
	assert.Equal(t, "http://press-a.printers.local", got.Endpoint)
	assert.Equal(t, "NA", got.Location.Region)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 0, got.CurrentLoad)
	assert.Equal(t, p.Capabilities, got.Capabilities)
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	dup := testPrinter("press-a-again", "NA")
	dup.ID = p.ID
	assert.ErrorIs(t, reg.Register(ctx, dup), ErrPrinterAlreadyExists)
}

func TestRegistryRejectsNonCompliantCapabilities(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Printer)
	}{
		{"missing_attestation", func(p *Printer) { p.Capabilities.BleedOK = false }},
		{"low_resolution", func(p *Printer) { p.Capabilities.Metrics.MeasuredDPI = 200 }},
		{"low_color_accuracy", func(p *Printer) { p.Capabilities.Metrics.ColorAccuracy = 85 }},
		{"missing_region", func(p *Printer) { p.Location.Region = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPrinter("press-bad", "NA")
			tt.mutate(p)
			assert.Error(t, reg.Register(ctx, p))
		})
	}
}

func TestRegistryGetUnknownPrinter(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "no-such-printer")
	assert.ErrorIs(t, err, ErrPrinterNotFound)
}

func TestRegistryListByRegionKeepsRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"press-a", "press-b", "press-c"} {
		require.NoError(t, reg.Register(ctx, testPrinter(name, "NA")))
	}
	require.NoError(t, reg.Register(ctx, testPrinter("press-eu", "EU")))

	printers, err := reg.ListByRegion(ctx, "NA")
	require.NoError(t, err)
	require.Len(t, printers, 3)
	assert.Equal(t, "press-a", printers[0].Name)
	assert.Equal(t, "press-b", printers[1].Name)
	assert.Equal(t, "press-c", printers[2].Name)
}

func TestRegistryUpdateStatusNotifiesListener(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	type change struct {
		id       string
		old, cur PrinterStatus
	}
	changes := make(chan change, 1)
	reg.SetStatusListener(func(p *Printer, old, updated PrinterStatus) {
		changes <- change{id: p.ID, old: old, cur: updated}
	})

	require.NoError(t, reg.UpdateStatus(ctx, p.ID, StatusErrorMinor))

	select {
	case c := <-changes:
		assert.Equal(t, p.ID, c.id)
		assert.Equal(t, StatusActive, c.old)
		assert.Equal(t, StatusErrorMinor, c.cur)
	case <-time.After(time.Second):
		t.Fatal("status listener was not notified")
	}

	got, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusErrorMinor, got.Status)

	// A same-status update must not fire the listener again.
	require.NoError(t, reg.UpdateStatus(ctx, p.ID, StatusErrorMinor))
	select {
	case <-changes:
		t.Fatal("listener fired for a no-op status update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryUpdateQualityMetrics(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	metrics := QualityMetrics{MeasuredDPI: 1200, ColorAccuracy: 98, RegistrationAccuracyMM: 0.05}
	require.NoError(t, reg.UpdateQualityMetrics(ctx, p.ID, metrics))

	got, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, metrics, got.Capabilities.Metrics)
}

func TestRegistryLoadCounter(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, reg.Register(ctx, p))

	require.NoError(t, reg.IncrementLoad(ctx, p.ID))
	require.NoError(t, reg.IncrementLoad(ctx, p.ID))
	require.NoError(t, reg.DecrementLoad(ctx, p.ID))

	got, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentLoad)

	// The counter floors at zero.
	require.NoError(t, reg.DecrementLoad(ctx, p.ID))
	require.NoError(t, reg.DecrementLoad(ctx, p.ID))

	got, err = reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}
