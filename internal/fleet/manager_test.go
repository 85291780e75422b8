package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablepress/pressroom/internal/logger"
)

func newTestManager(t *testing.T, backupRegions map[string][]string) *Manager {
	t.Helper()
	reg := newTestRegistry(t)
	return NewManager(reg, NewBalancer(StrategyLeastConnections), backupRegions, logger.NewNop())
}

func TestFindEligiblePicksAndRecordsLoad(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, p))

	chosen, err := mgr.FindEligible(ctx, "NA", testSpec())
	require.NoError(t, err)
	assert.Equal(t, p.ID, chosen.ID)
	assert.Equal(t, 1, chosen.CurrentLoad)

	stored, err := mgr.Registry().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentLoad)

	require.NoError(t, mgr.Release(ctx, p.ID))
	stored, err = mgr.Registry().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentLoad)
}

func TestFindEligibleLeastConnections(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	busy := testPrinter("press-busy", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, busy))
	idle := testPrinter("press-idle", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, idle))

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.Registry().IncrementLoad(ctx, busy.ID))
	}

	chosen, err := mgr.FindEligible(ctx, "NA", testSpec())
	require.NoError(t, err)
	assert.Equal(t, idle.ID, chosen.ID)
}

func TestFindEligibleSkipsIneligiblePrinters(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	lame := testPrinter("press-lame", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, lame))
	require.NoError(t, mgr.Registry().UpdateStatus(ctx, lame.ID, StatusErrorMajor))

	lowRes := testPrinter("press-lowres", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, lowRes))
	// Dropped below the job's requirement after registration.
	require.NoError(t, mgr.Registry().UpdateQualityMetrics(ctx, lowRes.ID, QualityMetrics{
		MeasuredDPI: 300, ColorAccuracy: 95,
	}))

	good := testPrinter("press-good", "NA")
	require.NoError(t, mgr.Registry().Register(ctx, good))

	spec := testSpec()
	spec.ResolutionDPI = 600

	chosen, err := mgr.FindEligible(ctx, "NA", spec)
	require.NoError(t, err)
	assert.Equal(t, good.ID, chosen.ID)
}

func TestFindEligibleUnsupportedFormat(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	p := testPrinter("press-a", "NA")
	p.Capabilities.SupportedFormats = []string{"A5"}
	require.NoError(t, mgr.Registry().Register(ctx, p))

	_, err := mgr.FindEligible(ctx, "NA", testSpec())
	assert.ErrorIs(t, err, ErrNoEligiblePrinter)
}

func TestFindEligibleFallsBackToBackupRegion(t *testing.T) {
	mgr := newTestManager(t, map[string][]string{"NA": {"EU", "APAC"}})
	ctx := context.Background()

	eu := testPrinter("press-eu", "EU")
	require.NoError(t, mgr.Registry().Register(ctx, eu))
	apac := testPrinter("press-apac", "APAC")
	require.NoError(t, mgr.Registry().Register(ctx, apac))

	// NA is empty, so the first backup region wins.
	chosen, err := mgr.FindEligible(ctx, "NA", testSpec())
	require.NoError(t, err)
	assert.Equal(t, eu.ID, chosen.ID)
}

func TestFindEligibleNoPrinterAnywhere(t *testing.T) {
	mgr := newTestManager(t, map[string][]string{"NA": {"EU"}})
	_, err := mgr.FindEligible(context.Background(), "NA", testSpec())
	assert.ErrorIs(t, err, ErrNoEligiblePrinter)
}
