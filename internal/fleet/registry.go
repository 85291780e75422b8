package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/fablepress/pressroom/internal/compliance"
	"github.com/fablepress/pressroom/internal/db"
	"github.com/fablepress/pressroom/internal/logger"
)

var (
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterAlreadyExists = errors.New("printer already exists")
)

const (
	printerKeyPrefix = "fleet:printer:"
	regionKeyPrefix  = "fleet:region:"
)

// Registry is the durable index of known printers, fronted by a short-TTL
// Redis cache so region-scoped lookups stay cheap under health-check churn.
// The cache may serve data up to TTL stale; every status or metrics update
// invalidates the affected keys eagerly.
type Registry struct {
	db    *sql.DB
	cache *redis.Client
	ttl   time.Duration
	log   *logger.Logger

	onStatusChange StatusListener
}

// StatusListener is notified after a printer's status actually changes.
type StatusListener func(p *Printer, old, updated PrinterStatus)

func NewRegistry(database *sql.DB, cache *redis.Client, ttl time.Duration, log *logger.Logger) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{
		db:    database,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

// Register adds a printer to the fleet. Printers whose capabilities fail the
// compliance floor are rejected and never enter the active set.
func (r *Registry) Register(ctx context.Context, p *Printer) error {
	if err := checkCapabilities(p.Capabilities); err != nil {
		return err
	}

	if p.Location.Region == "" {
		return fmt.Errorf("printer region is required")
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = StatusActive

	capsJSON, err := json.Marshal(p.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to serialize capabilities: %w", err)
	}
	areaJSON, err := json.Marshal(p.Location.ServiceArea)
	if err != nil {
		return fmt.Errorf("failed to serialize service area: %w", err)
	}

	res, err := r.db.ExecContext(ctx, db.InsertPrinter,
		p.ID, p.Name, p.Endpoint, p.Location.Region, p.Location.Latitude, p.Location.Longitude,
		string(areaJSON), string(p.Status), string(capsJSON),
	)
	if err != nil {
		// The UNIQUE constraint on id is the arbiter of uniqueness, so two
		// concurrent registrations with the same id both get the sentinel.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrPrinterAlreadyExists
		}
		return fmt.Errorf("failed to insert printer: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		p.RegSeq = seq
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	r.invalidate(ctx, p.ID, p.Location.Region)

	return nil
}

// checkCapabilities enforces the registration floor: all three compliance
// flags set, measured resolution at the standard minimum, color accuracy at
// or above the eligibility floor.
func checkCapabilities(caps PrinterCapabilities) error {
	if !caps.ColorMgmtOK || !caps.ResolutionOK || !caps.BleedOK {
		return fmt.Errorf("printer rejected: all three compliance attestations (color management, resolution, bleed) are required")
	}
	if caps.Metrics.MeasuredDPI < compliance.MinResolutionDPI {
		return fmt.Errorf("printer rejected: measured resolution %d DPI is below the %d DPI minimum",
			caps.Metrics.MeasuredDPI, compliance.MinResolutionDPI)
	}
	if caps.Metrics.ColorAccuracy < compliance.MinColorAccuracyScore {
		return fmt.Errorf("printer rejected: color accuracy %.1f is below the %.0f floor",
			caps.Metrics.ColorAccuracy, compliance.MinColorAccuracyScore)
	}
	return nil
}

// Get returns the printer with the given id, reading through the cache.
func (r *Registry) Get(ctx context.Context, id string) (*Printer, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, printerKeyPrefix+id).Bytes()
		if err == nil {
			var p Printer
			if err := json.Unmarshal(raw, &p); err == nil {
				return &p, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("printer cache read failed", "printer_id", id, "error", err)
		}
	}

	p, err := r.getFromStore(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, printerKeyPrefix+id, p)

	return p, nil
}

func (r *Registry) getFromStore(ctx context.Context, id string) (*Printer, error) {
	row := r.db.QueryRowContext(ctx, db.GetPrinterByID, id)
	p, err := scanPrinter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrinterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query printer: %w", err)
	}
	return p, nil
}

// ListByRegion returns the region's printers in registration order, reading
// through the cache.
func (r *Registry) ListByRegion(ctx context.Context, region string) ([]*Printer, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, regionKeyPrefix+region).Bytes()
		if err == nil {
			var printers []*Printer
			if err := json.Unmarshal(raw, &printers); err == nil {
				return printers, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("region cache read failed", "region", region, "error", err)
		}
	}

	printers, err := r.listByRegionFromStore(ctx, region)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, regionKeyPrefix+region, printers)

	return printers, nil
}

func (r *Registry) listByRegionFromStore(ctx context.Context, region string) ([]*Printer, error) {
	rows, err := r.db.QueryContext(ctx, db.ListPrintersByRegion, region)
	if err != nil {
		return nil, fmt.Errorf("failed to query printers: %w", err)
	}
	defer rows.Close()

	return scanPrinters(rows)
}

// ListAll returns every registered printer in registration order, straight
// from the durable store. Used by the health monitor, which must not act on
// stale status.
func (r *Registry) ListAll(ctx context.Context) ([]*Printer, error) {
	rows, err := r.db.QueryContext(ctx, db.ListAllPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to query printers: %w", err)
	}
	defer rows.Close()

	return scanPrinters(rows)
}

// UpdateStatus sets the printer's status and eagerly invalidates its cache
// entries.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status PrinterStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid printer status: %s", status)
	}

	p, err := r.getFromStore(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, db.UpdatePrinterStatus, string(status), id); err != nil {
		return fmt.Errorf("failed to update printer status: %w", err)
	}

	r.invalidate(ctx, id, p.Location.Region)

	if p.Status != status && r.onStatusChange != nil {
		go r.onStatusChange(p, p.Status, status)
	}

	return nil
}

// SetStatusListener registers the status-change hook. Must be set before the
// health monitor starts.
func (r *Registry) SetStatusListener(fn StatusListener) {
	r.onStatusChange = fn
}

// UpdateQualityMetrics records a calibration event.
func (r *Registry) UpdateQualityMetrics(ctx context.Context, id string, metrics QualityMetrics) error {
	p, err := r.getFromStore(ctx, id)
	if err != nil {
		return err
	}

	p.Capabilities.Metrics = metrics
	capsJSON, err := json.Marshal(p.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to serialize capabilities: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, db.UpdatePrinterCapabilities, string(capsJSON), id); err != nil {
		return fmt.Errorf("failed to update printer metrics: %w", err)
	}

	r.invalidate(ctx, id, p.Location.Region)

	return nil
}

// IncrementLoad bumps the printer's in-flight job count. The SQL increment is
// atomic; no component outside the registry touches the counter.
func (r *Registry) IncrementLoad(ctx context.Context, id string) error {
	return r.adjustLoad(ctx, id, db.IncrementPrinterLoad)
}

// DecrementLoad releases one in-flight slot, flooring at zero.
func (r *Registry) DecrementLoad(ctx context.Context, id string) error {
	return r.adjustLoad(ctx, id, db.DecrementPrinterLoad)
}

func (r *Registry) adjustLoad(ctx context.Context, id, query string) error {
	p, err := r.getFromStore(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to adjust printer load: %w", err)
	}

	r.invalidate(ctx, id, p.Location.Region)

	return nil
}

func (r *Registry) cacheSet(ctx context.Context, key string, value interface{}) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		r.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func (r *Registry) invalidate(ctx context.Context, id, region string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, printerKeyPrefix+id, regionKeyPrefix+region).Err(); err != nil {
		r.log.Warn("cache invalidation failed", "printer_id", id, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrinter(row rowScanner) (*Printer, error) {
	var p Printer
	var capsJSON, areaJSON, status string
	var lastSeenAt sql.NullTime

	err := row.Scan(
		&p.RegSeq, &p.ID, &p.Name, &p.Endpoint, &p.Location.Region, &p.Location.Latitude, &p.Location.Longitude,
		&areaJSON, &status, &capsJSON, &p.CurrentLoad, &lastSeenAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = PrinterStatus(status)
	if lastSeenAt.Valid {
		p.LastSeenAt = &lastSeenAt.Time
	}
	if err := json.Unmarshal([]byte(capsJSON), &p.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities: %w", err)
	}
	if areaJSON != "" && areaJSON != "[]" {
		if err := json.Unmarshal([]byte(areaJSON), &p.Location.ServiceArea); err != nil {
			return nil, fmt.Errorf("failed to parse service area: %w", err)
		}
	}

	return &p, nil
}

func scanPrinters(rows *sql.Rows) ([]*Printer, error) {
	printers := make([]*Printer, 0)
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}
