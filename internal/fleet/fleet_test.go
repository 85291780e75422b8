package fleet

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablepress/pressroom/internal/compliance"
	"github.com/fablepress/pressroom/internal/db"
	"github.com/fablepress/pressroom/internal/logger"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(newTestDB(t), nil, 0, logger.NewNop())
}

func testPrinter(name, region string) *Printer {
	return &Printer{
		Name:     name,
		Endpoint: "http://" + name + ".printers.local",
		Location: Location{Region: region, Latitude: 40.7, Longitude: -74.0},
		Capabilities: PrinterCapabilities{
			SupportedFormats: []string{"A4", "A5", "square-210"},
			MaxPageWidthMM:   330,
			MaxPageHeightMM:  480,
			Duplex:           true,
			ColorProfiles:    []string{"FOGRA39", "GRACoL2013"},
			PaperStocks: []compliance.PaperStock{
				{Type: "matte-170gsm", Cert: "FSC"},
			},
			ColorMgmtOK:  true,
			ResolutionOK: true,
			BleedOK:      true,
			Metrics: QualityMetrics{
				MeasuredDPI:            600,
				ColorAccuracy:          95,
				RegistrationAccuracyMM: 0.1,
			},
		},
	}
}

func testSpec() compliance.QualitySpec {
	return compliance.QualitySpec{
		ColorSpace:    compliance.ColorSpaceCMYK,
		ICCProfile:    "FOGRA39",
		ResolutionDPI: 300,
		PaperType:     "matte-170gsm",
		PaperCert:     "FSC",
		BleedMM:       3,
		TrimBox:       compliance.TrimBox{Width: 210, Height: 297, Unit: compliance.TrimUnitMM},
		PageFormats:   []string{"A4"},
	}
}
