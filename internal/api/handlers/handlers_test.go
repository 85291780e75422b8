package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablepress/pressroom/internal/db"
	"github.com/fablepress/pressroom/internal/fleet"
	"github.com/fablepress/pressroom/internal/jobs"
	"github.com/fablepress/pressroom/internal/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fleet.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := logger.NewNop()
	registry := fleet.NewRegistry(database, nil, 0, log)
	manager := fleet.NewManager(registry, fleet.NewBalancer(fleet.StrategyLeastConnections), nil, log)
	store := jobs.NewStore(database, 0)
	orch := jobs.NewOrchestrator(store, manager, nil, nil, nil, jobs.OrchestratorConfig{
		Workers:       1,
		AssignRetries: 1,
		AssignBackoff: time.Millisecond,
	}, log)

	router := gin.New()
	api := router.Group("/api")
	NewJobHandler(orch, registry).RegisterRoutes(api, nil)
	NewPrinterHandler(registry).RegisterRoutes(api, nil)

	return router, registry
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func compliantSpecBody() map[string]interface{} {
	return map[string]interface{}{
		"color_space":    "CMYK",
		"icc_profile":    "FOGRA39",
		"resolution_dpi": 300,
		"paper_type":     "matte-170gsm",
		"paper_cert":     "FSC",
		"bleed_mm":       3,
		"trim_box":       map[string]interface{}{"width": 210, "height": 297, "unit": "mm"},
		"page_formats":   []string{"A4"},
	}
}

func createJobBody() map[string]interface{} {
	return map[string]interface{}{
		"order_ref":    "order-1",
		"book_ref":     "book-1",
		"region":       "NA",
		"quality_spec": compliantSpecBody(),
	}
}

func registerPrinterBody(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":     name,
		"endpoint": "http://" + name + ".printers.local",
		"location": map[string]interface{}{"region": "NA", "latitude": 40.7, "longitude": -74.0},
		"capabilities": map[string]interface{}{
			"supported_formats": []string{"A4", "A5"},
			"color_profiles":    []string{"FOGRA39"},
			"paper_stocks":      []map[string]string{{"type": "matte-170gsm", "cert": "FSC"}},
			"color_mgmt_ok":     true,
			"resolution_ok":     true,
			"bleed_ok":          true,
			"metrics": map[string]interface{}{
				"measured_dpi":   600,
				"color_accuracy": 95,
			},
		},
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp JobResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "QUEUED", resp.Status)
	assert.Equal(t, "order-1", resp.OrderRef)
}

func TestCreateJobRejectsNonCompliantSpec(t *testing.T) {
	router, _ := newTestRouter(t)

	body := createJobBody()
	spec := compliantSpecBody()
	spec["color_space"] = "RGB"
	body["quality_spec"] = spec

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "spec_not_compliant", resp.Error)
	require.NotEmpty(t, resp.Violations)
	assert.Contains(t, resp.Violations[0], "CMYK")
}

func TestCreateJobMissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", map[string]interface{}{"order_ref": "order-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "validation_error", resp.Error)
}

func TestGetJobEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobResponse
	decode(t, rec, &created)

	rec = doJSON(t, router, http.MethodGet, "/api/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	decode(t, rec, &resp)
	assert.Equal(t, created.ID, resp.ID)
	require.NotEmpty(t, resp.Timeline)
	assert.Equal(t, "created", resp.Timeline[0].Event)
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignJobEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/printers", registerPrinterBody("press-a"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var printer PrinterResponse
	decode(t, rec, &printer)

	rec = doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var job JobResponse
	decode(t, rec, &job)

	rec = doJSON(t, router, http.MethodPut, "/api/jobs/"+job.ID+"/assign", map[string]interface{}{"priority": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var assigned struct {
		Job     JobResponse     `json:"job"`
		Printer PrinterResponse `json:"printer"`
	}
	decode(t, rec, &assigned)
	assert.Equal(t, "ASSIGNED", assigned.Job.Status)
	assert.Equal(t, printer.ID, assigned.Job.PrinterID)
	assert.Equal(t, 2, assigned.Job.Priority)
	assert.Equal(t, printer.ID, assigned.Printer.ID)
	assert.Equal(t, printer.Capabilities, assigned.Printer.Capabilities)
}

func TestAssignJobNoEligiblePrinter(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var job JobResponse
	decode(t, rec, &job)

	rec = doJSON(t, router, http.MethodPut, "/api/jobs/"+job.ID+"/assign", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "no_eligible_printer", resp.Error)
}

func TestAdvanceJobIllegalTransition(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var job JobResponse
	decode(t, rec, &job)

	rec = doJSON(t, router, http.MethodPut, "/api/jobs/"+job.ID+"/status", map[string]interface{}{"target": "PRINTING"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "transition_error", resp.Error)
}

func TestCancelJobEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var job JobResponse
	decode(t, rec, &job)

	rec = doJSON(t, router, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling again stays a success.
	rec = doJSON(t, router, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/jobs/"+job.ID, nil)
	var got JobResponse
	decode(t, rec, &got)
	assert.Equal(t, "CANCELLED", got.Status)
}

func TestQueueStatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/jobs", createJobBody())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ByStatus map[string]int `json:"by_status"`
		Total    int            `json:"total"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.ByStatus["QUEUED"])
	assert.Equal(t, 2, resp.Total)
}

func TestRegisterPrinterRejectsNonCompliant(t *testing.T) {
	router, _ := newTestRouter(t)

	body := registerPrinterBody("press-bad")
	caps := body["capabilities"].(map[string]interface{})
	caps["bleed_ok"] = false

	rec := doJSON(t, router, http.MethodPost, "/api/printers", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "compliance_rejected", resp.Error)
}

func TestListPrintersRequiresRegion(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/printers", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/printers?region=NA", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Region   string            `json:"region"`
		Printers []PrinterResponse `json:"printers"`
		Count    int               `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "NA", resp.Region)
	assert.Zero(t, resp.Count)
}

func TestPrinterHealthAndStatusEndpoints(t *testing.T) {
	router, registry := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/printers", registerPrinterBody("press-a"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var printer PrinterResponse
	decode(t, rec, &printer)

	rec = doJSON(t, router, http.MethodPut, "/api/printers/"+printer.ID+"/status", map[string]interface{}{"status": "INACTIVE"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/printers/"+printer.ID+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health PrinterHealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "INACTIVE", health.Status)
	assert.Equal(t, 600, health.Metrics.MeasuredDPI)

	// Reject statuses outside the enum before touching the registry.
	rec = doJSON(t, router, http.MethodPut, "/api/printers/"+printer.ID+"/status", map[string]interface{}{"status": "BROKEN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := registry.Get(context.Background(), printer.ID)
	require.NoError(t, err)
	assert.Equal(t, fleet.StatusInactive, got.Status)
}
