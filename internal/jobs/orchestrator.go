package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablepress/pressroom/internal/compliance"
	"github.com/fablepress/pressroom/internal/fleet"
	"github.com/fablepress/pressroom/internal/logger"
	"github.com/fablepress/pressroom/internal/render"
)

// EventSink receives job lifecycle notifications. Implemented by the webhook
// sender; a nil sink disables notifications.
type EventSink interface {
	JobEvent(event string, job *PrintJob, detail string)
}

type OrchestratorConfig struct {
	Workers       int
	AssignRetries int
	AssignBackoff time.Duration
}

// Orchestrator owns the print-job state machine. All job mutations flow
// through it; the queue workers, the HTTP layer, and printer failover all
// call into the same transition methods.
type Orchestrator struct {
	store    *Store
	network  *fleet.Manager
	renderer render.Renderer
	objects  render.ObjectStore
	queue    *Queue
	events   EventSink
	log      *logger.Logger

	workers       int
	assignRetries int
	assignBackoff time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewOrchestrator(store *Store, network *fleet.Manager, renderer render.Renderer, objects render.ObjectStore, events EventSink, cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.AssignRetries < 1 {
		cfg.AssignRetries = 3
	}
	if cfg.AssignBackoff <= 0 {
		cfg.AssignBackoff = 5 * time.Second
	}

	return &Orchestrator{
		store:         store,
		network:       network,
		renderer:      renderer,
		objects:       objects,
		queue:         NewQueue(),
		events:        events,
		log:           log,
		workers:       cfg.Workers,
		assignRetries: cfg.AssignRetries,
		assignBackoff: cfg.AssignBackoff,
		stopCh:        make(chan struct{}),
	}
}

// Start recovers queued work from the store and launches dispatch workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.mu.Unlock()

	if err := o.recoverJobs(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}

	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	close(o.stopCh)
	o.queue.Close()
	o.wg.Wait()
}

// recoverJobs refills the in-memory queue from the durable store after a
// restart. Jobs still marked QUEUED simply go back into dispatch; jobs left
// ASSIGNED when the process died are requeued, which also clears the printer
// and gives its load slot back.
func (o *Orchestrator) recoverJobs(ctx context.Context) error {
	queued, err := o.store.ListByStatus(ctx, StatusQueued, 1000, 0)
	if err != nil {
		return err
	}
	for _, job := range queued {
		o.queue.Enqueue(job.ID, job.Priority)
	}

	assigned, err := o.store.ListByStatus(ctx, StatusAssigned, 1000, 0)
	if err != nil {
		return err
	}
	for _, job := range assigned {
		if _, err := o.requeue(ctx, job); err != nil {
			o.log.Error("recovery: failed to requeue assigned job", "job_id", job.ID, "error", err)
		}
	}

	if len(queued) > 0 || len(assigned) > 0 {
		o.log.Info("recovered jobs", "queued", len(queued), "assigned", len(assigned))
	}
	return nil
}

// Create validates the quality spec against the industry minimums and, on
// success, persists the job as QUEUED and schedules it for dispatch. A
// non-compliant spec rejects the job before anything is persisted.
func (o *Orchestrator) Create(ctx context.Context, orderRef, bookRef, region string, spec compliance.QualitySpec) (*PrintJob, error) {
	ok, violations := compliance.Validate(spec)
	if !ok {
		return nil, &ValidationError{Violations: violations}
	}

	job := &PrintJob{
		ID:       uuid.NewString(),
		OrderRef: orderRef,
		BookRef:  bookRef,
		Region:   region,
		Status:   StatusQueued,
		Priority: ComputePriority(spec),
		Spec:     spec,
		Metadata: map[string]string{
			"compliance_checked_at": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, job.ID, "created", "", "")
	o.queue.Enqueue(job.ID, job.Priority)
	o.notify("job_created", job, "")

	o.log.Info("print job created", "job_id", job.ID, "order", orderRef, "priority", job.Priority)

	return job, nil
}

// Assign asks the network manager for an eligible printer and moves the job
// from QUEUED to ASSIGNED. The region parameter overrides the job's own
// region when non-empty; a non-nil priority overrides the computed priority,
// clamped to the valid range.
func (o *Orchestrator) Assign(ctx context.Context, jobID, region string, priority *int) (*PrintJob, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusQueued {
		return nil, &TransitionError{JobID: jobID, From: job.Status, To: StatusAssigned}
	}

	if region == "" {
		region = job.Region
	}

	if priority != nil {
		job.Priority = clampPriority(*priority)
	}

	printer, err := o.network.FindEligible(ctx, region, job.Spec)
	if err != nil {
		return nil, err
	}

	job.Status = StatusAssigned
	job.PrinterID = printer.ID
	job.Metadata["assigned_at"] = time.Now().UTC().Format(time.RFC3339)
	delete(job.Metadata, "dispatch_exhausted")

	if err := o.store.UpdateCAS(ctx, job, StatusQueued); err != nil {
		// Lost to a concurrent cancel; give the slot back.
		if relErr := o.network.Release(ctx, printer.ID); relErr != nil {
			o.log.Error("failed to release printer slot", "printer_id", printer.ID, "error", relErr)
		}
		return nil, err
	}

	o.appendEvent(ctx, job.ID, "assigned", printer.ID, printer.Name)
	o.notify("job_assigned", job, printer.ID)

	o.log.Info("job assigned", "job_id", job.ID, "printer_id", printer.ID, "region", printer.Location.Region)

	return job, nil
}

// Advance drives the job forward one state. Guarded transitions run their
// checks here: preflight validates the spec against the assigned printer,
// the printing transition invokes the renderer, and completion repeats the
// printer-level compliance check.
func (o *Orchestrator) Advance(ctx context.Context, jobID string, target Status) (*PrintJob, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown target status: %s", target)
	}

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(job.Status, target) {
		return nil, &TransitionError{JobID: jobID, From: job.Status, To: target}
	}

	switch target {
	case StatusAssigned:
		return o.Assign(ctx, jobID, "", nil)
	case StatusCancelled:
		if err := o.Cancel(ctx, jobID); err != nil {
			return nil, err
		}
		return o.store.Get(ctx, jobID)
	case StatusQueued:
		return o.requeue(ctx, job)
	case StatusPreflightCheck:
		return o.advanceToPreflight(ctx, job)
	case StatusPrinting:
		return o.advanceToPrinting(ctx, job)
	case StatusCompleted:
		return o.advanceToCompleted(ctx, job)
	case StatusFailed:
		return o.failJob(ctx, job, "failed by operator request")
	default:
		return o.plainTransition(ctx, job, target)
	}
}

func (o *Orchestrator) plainTransition(ctx context.Context, job *PrintJob, target Status) (*PrintJob, error) {
	from := job.Status
	job.Status = target
	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, job.ID, "advanced", job.PrinterID, string(target))
	return job, nil
}

// advanceToPreflight leaves ASSIGNED (releasing the load slot) and runs the
// preflight check against the actual printer's capabilities. This is a
// distinct check from the creation-time one and must pass on its own.
func (o *Orchestrator) advanceToPreflight(ctx context.Context, job *PrintJob) (*PrintJob, error) {
	printer, err := o.network.Registry().Get(ctx, job.PrinterID)
	if err != nil {
		return nil, fmt.Errorf("assigned printer lookup failed: %w", err)
	}

	from := job.Status
	job.Status = StatusPreflightCheck
	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}
	o.releaseSlot(ctx, job.PrinterID)
	o.appendEvent(ctx, job.ID, "advanced", job.PrinterID, string(StatusPreflightCheck))

	ok, violations := compliance.ValidateForPrinter(job.Spec, printer.Capabilities.Profile())
	if !ok {
		return o.failJob(ctx, job, "preflight check failed: "+joinViolations(violations))
	}

	return job, nil
}

// advanceToPrinting transitions into PRINTING and invokes the rendering
// collaborator. Any rendering error routes the job to FAILED with the error
// text preserved in metadata.
func (o *Orchestrator) advanceToPrinting(ctx context.Context, job *PrintJob) (*PrintJob, error) {
	from := job.Status
	now := time.Now()
	job.Status = StatusPrinting
	job.StartedAt = &now
	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, job.ID, "advanced", job.PrinterID, string(StatusPrinting))

	if o.renderer == nil || o.objects == nil {
		return job, nil
	}

	pages, err := o.objects.FetchPageImages(ctx, job.BookRef)
	if err != nil {
		return o.failRendering(ctx, job, err)
	}

	document, err := o.renderer.RenderPrintReadyDocument(ctx, pages, job.Spec)
	if err != nil {
		return o.failRendering(ctx, job, err)
	}

	artifactURL, err := o.objects.StoreArtifact(ctx, job.ID, document)
	if err != nil {
		return o.failRendering(ctx, job, err)
	}

	job.Metadata["artifact_url"] = artifactURL
	if err := o.store.UpdateCAS(ctx, job, StatusPrinting); err != nil {
		return nil, err
	}

	return job, nil
}

// advanceToCompleted runs the final compliance re-check against the assigned
// printer before accepting QUALITY_CHECK -> COMPLETED.
func (o *Orchestrator) advanceToCompleted(ctx context.Context, job *PrintJob) (*PrintJob, error) {
	printer, err := o.network.Registry().Get(ctx, job.PrinterID)
	if err != nil {
		return nil, fmt.Errorf("assigned printer lookup failed: %w", err)
	}

	ok, violations := compliance.ValidateForPrinter(job.Spec, printer.Capabilities.Profile())
	job.QualityCheck = &QualityCheckResult{
		Passed:     ok,
		Violations: violations,
		CheckedAt:  time.Now(),
	}

	if !ok {
		return o.failJob(ctx, job, "quality check failed: "+joinViolations(violations))
	}

	from := job.Status
	now := time.Now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, job.ID, "completed", job.PrinterID, "")
	o.notify("job_completed", job, "")

	o.log.Info("job completed", "job_id", job.ID, "printer_id", job.PrinterID)

	return job, nil
}

// failRendering routes a rendering error to FAILED and then spends the
// automatic retry if the job still has it. A second rendering failure is
// terminal and waits for an operator.
func (o *Orchestrator) failRendering(ctx context.Context, job *PrintJob, cause error) (*PrintJob, error) {
	failed, err := o.failJob(ctx, job, "rendering failed: "+cause.Error())
	if err != nil {
		return nil, err
	}

	requeued, err := o.requeue(ctx, failed)
	if err != nil {
		if errors.Is(err, ErrRetryExhausted) {
			return failed, nil
		}
		return nil, err
	}

	o.log.Info("rendering failure retried automatically", "job_id", requeued.ID)

	return requeued, nil
}

// failJob records the failure reason and moves the job to FAILED. Every
// FAILED job carries a non-empty human-readable reason.
func (o *Orchestrator) failJob(ctx context.Context, job *PrintJob, reason string) (*PrintJob, error) {
	if reason == "" {
		reason = "unspecified failure"
	}

	from := job.Status
	now := time.Now()
	job.Status = StatusFailed
	job.CompletedAt = &now
	job.Metadata["failure_reason"] = reason

	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, job.ID, "failed", job.PrinterID, reason)
	o.notify("job_failed", job, reason)

	o.log.Warn("job failed", "job_id", job.ID, "reason", reason)

	return job, nil
}

// requeue returns an ASSIGNED or FAILED job to QUEUED. For FAILED jobs the
// single retry budget applies, whether the requeue came from failover or an
// operator; this is the enforcement point that stops retry loops.
func (o *Orchestrator) requeue(ctx context.Context, job *PrintJob) (*PrintJob, error) {
	from := job.Status

	if from == StatusFailed {
		if job.RetryCount >= 1 {
			return nil, ErrRetryExhausted
		}
		job.RetryCount++
	}

	if from == StatusAssigned && job.PrinterID != "" {
		o.releaseSlot(ctx, job.PrinterID)
	}

	previousPrinter := job.PrinterID
	job.Status = StatusQueued
	job.PrinterID = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	delete(job.Metadata, "assigned_at")

	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, job.ID, "requeued", previousPrinter, string(from))
	o.queue.Enqueue(job.ID, job.Priority)

	return job, nil
}

// Retry is the explicit operator retry of a FAILED job. It draws from the
// same single-retry budget as automatic failover.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*PrintJob, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusFailed {
		return nil, &TransitionError{JobID: jobID, From: job.Status, To: StatusQueued}
	}

	return o.requeue(ctx, job)
}

// Cancel stops a job that has not started printing. Cancelling an already
// cancelled job is a no-op; cancelling past ASSIGNED is illegal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == StatusCancelled {
		return nil
	}

	if job.Status != StatusQueued && job.Status != StatusAssigned {
		return &TransitionError{JobID: jobID, From: job.Status, To: StatusCancelled}
	}

	from := job.Status
	now := time.Now()
	job.Status = StatusCancelled
	job.CompletedAt = &now

	if err := o.store.UpdateCAS(ctx, job, from); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			// Re-read: a concurrent cancel winning the race still counts.
			current, getErr := o.store.Get(ctx, jobID)
			if getErr == nil && current.Status == StatusCancelled {
				return nil
			}
		}
		return err
	}

	if from == StatusAssigned && job.PrinterID != "" {
		o.releaseSlot(ctx, job.PrinterID)
	}

	o.appendEvent(ctx, job.ID, "cancelled", job.PrinterID, "")
	o.notify("job_cancelled", job, "")

	return nil
}

// HandlePrinterFailure is the failover path, wired to the health monitor's
// ERROR_MAJOR transition. Jobs assigned to the dead printer but not yet
// printing return to the queue one priority level higher; jobs already
// printing are only reported, never reassigned automatically.
func (o *Orchestrator) HandlePrinterFailure(ctx context.Context, printerID string) {
	assigned, err := o.store.ListByPrinterAndStatus(ctx, printerID, StatusAssigned)
	if err != nil {
		o.log.Error("failover: failed to list assigned jobs", "printer_id", printerID, "error", err)
		return
	}

	for _, job := range assigned {
		job.Priority = clampPriority(job.Priority + 1)
		job.Metadata["failover_from"] = printerID

		previousPrinter := job.PrinterID
		job.Status = StatusQueued
		job.PrinterID = ""
		delete(job.Metadata, "assigned_at")

		if err := o.store.UpdateCAS(ctx, job, StatusAssigned); err != nil {
			o.log.Error("failover: failed to requeue job", "job_id", job.ID, "error", err)
			continue
		}

		o.releaseSlot(ctx, previousPrinter)
		o.appendEvent(ctx, job.ID, "failover", previousPrinter, "printer entered ERROR_MAJOR")
		o.queue.Enqueue(job.ID, job.Priority)
		o.notify("job_failover", job, printerID)

		o.log.Warn("job returned to queue by failover",
			"job_id", job.ID, "printer_id", printerID, "priority", job.Priority)
	}

	printing, err := o.store.ListByPrinterAndStatus(ctx, printerID, StatusPrinting)
	if err != nil {
		o.log.Error("failover: failed to list printing jobs", "printer_id", printerID, "error", err)
		return
	}

	for _, job := range printing {
		o.appendEvent(ctx, job.ID, "printer_failed_mid_print", printerID, "operator intervention required")
		o.notify("printer_failed_mid_print", job, printerID)
		o.log.Error("printer failed while printing; manual intervention required",
			"job_id", job.ID, "printer_id", printerID)
	}
}

func (o *Orchestrator) Get(ctx context.Context, jobID string) (*PrintJob, error) {
	return o.store.Get(ctx, jobID)
}

func (o *Orchestrator) Events(ctx context.Context, jobID string) ([]Event, error) {
	return o.store.ListEvents(ctx, jobID)
}

func (o *Orchestrator) Stats(ctx context.Context) (map[Status]int, error) {
	return o.store.CountByStatus(ctx)
}

func (o *Orchestrator) List(ctx context.Context, status Status, limit, offset int) ([]*PrintJob, error) {
	if status != "" {
		return o.store.ListByStatus(ctx, status, limit, offset)
	}
	return o.store.List(ctx, limit, offset)
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()

	for {
		jobID, ok := o.queue.Dequeue()
		if !ok {
			return
		}
		o.dispatch(jobID)
	}
}

// dispatch attempts assignment with bounded exponential backoff. Exhausting
// the attempts leaves the job QUEUED with a metadata flag for operator
// visibility; a job with no possible printer is not the job's fault.
func (o *Orchestrator) dispatch(jobID string) {
	ctx := context.Background()

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		o.log.Error("dispatch: failed to load job", "job_id", jobID, "error", err)
		return
	}
	if job.Status != StatusQueued {
		return
	}

	backoff := o.assignBackoff
	for attempt := 1; attempt <= o.assignRetries; attempt++ {
		_, err := o.Assign(ctx, jobID, "", nil)
		if err == nil {
			return
		}
		if !errors.Is(err, fleet.ErrNoEligiblePrinter) {
			var transitionErr *TransitionError
			if errors.As(err, &transitionErr) {
				// The job left QUEUED under us, usually an operator cancel
				// racing the worker. Nothing to do.
				o.log.Debug("dispatch: job no longer assignable", "job_id", jobID, "status", transitionErr.From)
				return
			}
			o.log.Error("dispatch: assignment failed", "job_id", jobID, "error", err)
			return
		}

		if attempt == o.assignRetries {
			break
		}

		select {
		case <-o.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	job, err = o.store.Get(ctx, jobID)
	if err != nil || job.Status != StatusQueued {
		return
	}
	job.Metadata["dispatch_exhausted"] = time.Now().UTC().Format(time.RFC3339)
	if err := o.store.UpdateCAS(ctx, job, StatusQueued); err != nil {
		o.log.Error("dispatch: failed to flag exhausted job", "job_id", jobID, "error", err)
		return
	}
	o.appendEvent(ctx, jobID, "dispatch_exhausted", "", "no eligible printer after retries")

	o.log.Warn("no eligible printer after retries; job stays queued", "job_id", jobID)
}

func (o *Orchestrator) releaseSlot(ctx context.Context, printerID string) {
	if printerID == "" {
		return
	}
	if err := o.network.Release(ctx, printerID); err != nil {
		o.log.Error("failed to release printer slot", "printer_id", printerID, "error", err)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, jobID, event, printerID, detail string) {
	if err := o.store.AppendEvent(ctx, jobID, event, printerID, detail); err != nil {
		o.log.Error("failed to append job event", "job_id", jobID, "event", event, "error", err)
	}
}

func (o *Orchestrator) notify(event string, job *PrintJob, detail string) {
	if o.events == nil {
		return
	}
	o.events.JobEvent(event, job, detail)
}

func joinViolations(violations []string) string {
	return strings.Join(violations, "; ")
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
