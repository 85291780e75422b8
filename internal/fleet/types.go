package fleet

import (
	"time"

	"github.com/fablepress/pressroom/internal/compliance"
)

type PrinterStatus string

const (
	StatusActive     PrinterStatus = "ACTIVE"
	StatusErrorMinor PrinterStatus = "ERROR_MINOR"
	StatusErrorMajor PrinterStatus = "ERROR_MAJOR"
	StatusInactive   PrinterStatus = "INACTIVE"
)

func (s PrinterStatus) Valid() bool {
	switch s {
	case StatusActive, StatusErrorMinor, StatusErrorMajor, StatusInactive:
		return true
	}
	return false
}

// QualityMetrics are measured at calibration time, not advertised by the
// vendor. They only change through explicit calibration events.
type QualityMetrics struct {
	MeasuredDPI            int     `json:"measured_dpi"`
	ColorAccuracy          float64 `json:"color_accuracy"`
	RegistrationAccuracyMM float64 `json:"registration_accuracy_mm"`
}

type PrinterCapabilities struct {
	SupportedFormats []string                `json:"supported_formats"`
	MaxPageWidthMM   float64                 `json:"max_page_width_mm"`
	MaxPageHeightMM  float64                 `json:"max_page_height_mm"`
	Duplex           bool                    `json:"duplex"`
	ColorProfiles    []string                `json:"color_profiles"`
	PaperStocks      []compliance.PaperStock `json:"paper_stocks"`
	ColorMgmtOK      bool                    `json:"color_mgmt_ok"`
	ResolutionOK     bool                    `json:"resolution_ok"`
	BleedOK          bool                    `json:"bleed_ok"`
	Metrics          QualityMetrics          `json:"metrics"`
}

// Profile projects the capability data the compliance preflight check needs.
func (c PrinterCapabilities) Profile() compliance.PrinterProfile {
	return compliance.PrinterProfile{
		MeasuredDPI:      c.Metrics.MeasuredDPI,
		ColorAccuracy:    c.Metrics.ColorAccuracy,
		ColorMgmtOK:      c.ColorMgmtOK,
		ResolutionOK:     c.ResolutionOK,
		BleedOK:          c.BleedOK,
		ColorProfiles:    c.ColorProfiles,
		PaperStocks:      c.PaperStocks,
		SupportedFormats: c.SupportedFormats,
	}
}

type Location struct {
	Region      string       `json:"region"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	ServiceArea [][2]float64 `json:"service_area,omitempty"`
}

type Printer struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Endpoint is the partner facility's base URL, used for reachability
	// probes.
	Endpoint     string              `json:"endpoint"`
	Status       PrinterStatus       `json:"status"`
	Capabilities PrinterCapabilities `json:"capabilities"`
	Location     Location            `json:"location"`
	CurrentLoad  int                 `json:"current_load"`

	// RegSeq is the registration order, used for round-robin rotation and
	// least-connections tie breaking.
	RegSeq     int64      `json:"reg_seq"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
