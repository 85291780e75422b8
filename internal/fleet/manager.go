package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/fablepress/pressroom/internal/compliance"
	"github.com/fablepress/pressroom/internal/logger"
)

// ErrNoEligiblePrinter means no printer in the requested region (or its
// configured backups) passed the eligibility filter. Callers retry with
// backoff; it is not a job failure.
var ErrNoEligiblePrinter = errors.New("no eligible printer available")

// Manager is the printer network manager: it composes the registry, the
// health-maintained fleet view, and a selection strategy, and answers
// "find me an eligible printer in region X".
type Manager struct {
	registry      *Registry
	balancer      Balancer
	backupRegions map[string][]string
	log           *logger.Logger
}

func NewManager(registry *Registry, balancer Balancer, backupRegions map[string][]string, log *logger.Logger) *Manager {
	return &Manager{
		registry:      registry,
		balancer:      balancer,
		backupRegions: backupRegions,
		log:           log,
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// FindEligible selects one eligible printer for the spec, trying the primary
// region first and then its ordered backup regions. Selection increments the
// chosen printer's load counter; the caller must release it when the job
// leaves ASSIGNED.
func (m *Manager) FindEligible(ctx context.Context, region string, spec compliance.QualitySpec) (*Printer, error) {
	regions := append([]string{region}, m.backupRegions[region]...)

	for _, reg := range regions {
		printers, err := m.registry.ListByRegion(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to list printers in %s: %w", reg, err)
		}

		candidates := filterEligible(printers, spec)
		if len(candidates) == 0 {
			continue
		}

		chosen := m.balancer.Pick(reg, candidates, spec)
		if chosen == nil {
			continue
		}

		if err := m.registry.IncrementLoad(ctx, chosen.ID); err != nil {
			return nil, fmt.Errorf("failed to record assignment: %w", err)
		}
		chosen.CurrentLoad++

		if reg != region {
			m.log.Info("job routed to backup region",
				"requested_region", region, "selected_region", reg, "printer_id", chosen.ID)
		}

		return chosen, nil
	}

	return nil, ErrNoEligiblePrinter
}

// Release decrements a printer's load counter when a job leaves ASSIGNED,
// whether by progressing or by failover.
func (m *Manager) Release(ctx context.Context, printerID string) error {
	return m.registry.DecrementLoad(ctx, printerID)
}

// filterEligible applies the hard eligibility filter: active status, all
// three compliance flags, measured resolution at or above the job's
// requirement, color accuracy at the floor, every requested page format
// supported. Order (registration order) is preserved.
func filterEligible(printers []*Printer, spec compliance.QualitySpec) []*Printer {
	required := spec.ResolutionDPI
	if required < compliance.MinResolutionDPI {
		required = compliance.MinResolutionDPI
	}

	eligible := make([]*Printer, 0, len(printers))
	for _, p := range printers {
		if p.Status != StatusActive {
			continue
		}
		caps := p.Capabilities
		if !caps.ColorMgmtOK || !caps.ResolutionOK || !caps.BleedOK {
			continue
		}
		if caps.Metrics.MeasuredDPI < required {
			continue
		}
		if caps.Metrics.ColorAccuracy < compliance.MinColorAccuracyScore {
			continue
		}
		if !supportsFormats(caps.SupportedFormats, spec.PageFormats) {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible
}

func supportsFormats(supported, requested []string) bool {
	for _, want := range requested {
		found := false
		for _, have := range supported {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
