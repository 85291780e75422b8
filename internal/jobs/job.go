package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fablepress/pressroom/internal/compliance"
)

type Status string

const (
	StatusQueued           Status = "QUEUED"
	StatusAssigned         Status = "ASSIGNED"
	StatusPreflightCheck   Status = "PREFLIGHT_CHECK"
	StatusColorCalibration Status = "COLOR_CALIBRATION"
	StatusPrinting         Status = "PRINTING"
	StatusQualityCheck     Status = "QUALITY_CHECK"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusCancelled        Status = "CANCELLED"
)

// transitions is the closed legal-transition table. FAILED -> QUEUED is
// listed here but additionally gated by the single-retry budget in the
// orchestrator.
var transitions = map[Status][]Status{
	StatusQueued:           {StatusAssigned, StatusCancelled},
	StatusAssigned:         {StatusPreflightCheck, StatusQueued, StatusCancelled},
	StatusPreflightCheck:   {StatusColorCalibration, StatusFailed},
	StatusColorCalibration: {StatusPrinting, StatusFailed},
	StatusPrinting:         {StatusQualityCheck, StatusFailed},
	StatusQualityCheck:     {StatusCompleted, StatusFailed},
	StatusFailed:           {StatusQueued},
	StatusCompleted:        {},
	StatusCancelled:        {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is in the legal table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError signals an illegal state change. It is a caller error and
// never retried.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for job %s", e.From, e.To, e.JobID)
}

// ValidationError carries the itemized compliance violations that rejected a
// spec. It is surfaced immediately and never retried.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "quality spec is not compliant: " + strings.Join(e.Violations, "; ")
}

var (
	ErrJobNotFound = errors.New("print job not found")

	// ErrConcurrentUpdate means the compare-and-set status update lost a
	// race; the caller re-reads and re-decides.
	ErrConcurrentUpdate = errors.New("job was modified concurrently")

	// ErrRetryExhausted means the job already consumed its single automatic
	// retry; a further failure is terminal.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// QualityCheckResult records the outcome of the final compliance check
// against the assigned printer.
type QualityCheckResult struct {
	Passed     bool      `json:"passed"`
	Violations []string  `json:"violations,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Event is one entry in a job's assignment/transition history.
type Event struct {
	Event     string    `json:"event"`
	PrinterID string    `json:"printer_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MinPriority = 0
	MaxPriority = 3
)

// PrintJob is owned by the orchestrator. Other components read it; only
// state-machine transitions mutate it.
type PrintJob struct {
	ID           string                 `json:"id"`
	OrderRef     string                 `json:"order_ref"`
	BookRef      string                 `json:"book_ref"`
	Region       string                 `json:"region"`
	PrinterID    string                 `json:"printer_id,omitempty"`
	Status       Status                 `json:"status"`
	Priority     int                    `json:"priority"`
	RetryCount   int                    `json:"retry_count"`
	Spec         compliance.QualitySpec `json:"quality_spec"`
	QualityCheck *QualityCheckResult    `json:"quality_check,omitempty"`
	Metadata     map[string]string      `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// ComputePriority derives dispatch priority from the spec: strict-compliance
// jobs jump two levels, above-minimum resolution one, capped at MaxPriority.
func ComputePriority(spec compliance.QualitySpec) int {
	priority := MinPriority
	if spec.StrictCompliance {
		priority += 2
	}
	if spec.ResolutionDPI > compliance.MinResolutionDPI {
		priority++
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return priority
}
