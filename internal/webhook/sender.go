package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fablepress/pressroom/internal/fleet"
	"github.com/fablepress/pressroom/internal/jobs"
	"github.com/fablepress/pressroom/internal/logger"
)

type Event string

const (
	EventJobCreated            Event = "job_created"
	EventJobAssigned           Event = "job_assigned"
	EventJobCompleted          Event = "job_completed"
	EventJobFailed             Event = "job_failed"
	EventJobCancelled          Event = "job_cancelled"
	EventJobFailover           Event = "job_failover"
	EventPrinterStatusChanged  Event = "printer_status_changed"
	EventPrinterFailedMidPrint Event = "printer_failed_mid_print"
)

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID     string `json:"job_id"`
	OrderRef  string `json:"order_ref"`
	PrinterID string `json:"printer_id,omitempty"`
	Status    string `json:"status"`
	Priority  int    `json:"priority"`
	Detail    string `json:"detail,omitempty"`
}

type PrinterStatusData struct {
	PrinterID      string    `json:"printer_id"`
	PrinterName    string    `json:"printer_name"`
	Region         string    `json:"region"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Endpoint is a configured webhook target. Events is the subscription
// filter; empty means all events.
type Endpoint struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type Config struct {
	Endpoints   []Endpoint
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	endpoint Endpoint
	payload  *Payload
	attempt  int
}

// Sender delivers lifecycle events to configured endpoints asynchronously,
// retrying failed deliveries with a fixed delay. Delivery never blocks the
// orchestrator or the health monitor.
type Sender struct {
	httpClient *http.Client
	endpoints  []Endpoint
	retryCount int
	retryDelay time.Duration
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	log        *logger.Logger
}

func NewSender(cfg Config, log *logger.Logger) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoints:  cfg.Endpoints,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		log:        log,
	}
}

func (s *Sender) Start(workers int) {
	if workers <= 0 {
		workers = 3
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// JobEvent implements jobs.EventSink.
func (s *Sender) JobEvent(event string, job *jobs.PrintJob, detail string) {
	s.dispatch(Event(event), JobEventData{
		JobID:     job.ID,
		OrderRef:  job.OrderRef,
		PrinterID: job.PrinterID,
		Status:    string(job.Status),
		Priority:  job.Priority,
		Detail:    detail,
	})
}

// PrinterStatusChanged implements the fleet registry's status listener.
func (s *Sender) PrinterStatusChanged(p *fleet.Printer, old, updated fleet.PrinterStatus) {
	s.dispatch(EventPrinterStatusChanged, PrinterStatusData{
		PrinterID:      p.ID,
		PrinterName:    p.Name,
		Region:         p.Location.Region,
		PreviousStatus: string(old),
		NewStatus:      string(updated),
		Timestamp:      time.Now(),
	})
}

func (s *Sender) dispatch(event Event, data interface{}) {
	for _, ep := range s.endpoints {
		if !ep.subscribed(event) {
			continue
		}

		payload := &Payload{
			Event:     string(event),
			Timestamp: time.Now(),
			Data:      data,
		}

		select {
		case s.queue <- &task{endpoint: ep, payload: payload}:
		default:
			s.log.Warn("webhook queue full, dropping event", "event", string(event), "endpoint", ep.Name)
		}
	}
}

func (e Endpoint) subscribed(event Event) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, name := range e.Events {
		if name == string(event) {
			return true
		}
	}
	return false
}

func (s *Sender) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			s.deliver(t)
		}
	}
}

func (s *Sender) deliver(t *task) {
	body, err := json.Marshal(t.payload)
	if err != nil {
		s.log.Error("failed to serialize webhook payload", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		s.log.Error("failed to build webhook request", "endpoint", t.endpoint.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pressroom-Event", t.payload.Event)
	if t.endpoint.Secret != "" {
		req.Header.Set("X-Pressroom-Signature", sign(body, t.endpoint.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
	}

	if t.attempt+1 >= s.retryCount {
		s.log.Warn("webhook delivery failed permanently",
			"endpoint", t.endpoint.Name, "event", t.payload.Event, "attempts", t.attempt+1)
		return
	}

	t.attempt++
	time.AfterFunc(s.retryDelay, func() {
		select {
		case s.queue <- t:
		default:
		}
	})
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
