package db

const (
	InsertPrinter = `
		INSERT INTO printers (id, name, endpoint, region, latitude, longitude, service_area_json, status, capabilities_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetPrinterByID = `
		SELECT reg_seq, id, name, endpoint, region, latitude, longitude, service_area_json, status, capabilities_json, current_load, last_seen_at, created_at, updated_at
		FROM printers WHERE id = ?
	`

	ListPrintersByRegion = `
		SELECT reg_seq, id, name, endpoint, region, latitude, longitude, service_area_json, status, capabilities_json, current_load, last_seen_at, created_at, updated_at
		FROM printers WHERE region = ? ORDER BY reg_seq ASC
	`

	ListAllPrinters = `
		SELECT reg_seq, id, name, endpoint, region, latitude, longitude, service_area_json, status, capabilities_json, current_load, last_seen_at, created_at, updated_at
		FROM printers ORDER BY reg_seq ASC
	`

	UpdatePrinterStatus = `
		UPDATE printers SET status = ?, last_seen_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	UpdatePrinterCapabilities = `
		UPDATE printers SET capabilities_json = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	IncrementPrinterLoad = `
		UPDATE printers SET current_load = current_load + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	DecrementPrinterLoad = `
		UPDATE printers SET current_load = MAX(current_load - 1, 0), updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`
)

const (
	InsertJob = `
		INSERT INTO print_jobs (id, order_ref, book_ref, region, status, priority, quality_spec_json, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `
		SELECT id, order_ref, book_ref, region, printer_id, status, priority, retry_count, quality_spec_json, quality_check_json, metadata_json, created_at, started_at, completed_at
		FROM print_jobs WHERE id = ?
	`

	ListJobsByStatus = `
		SELECT id, order_ref, book_ref, region, printer_id, status, priority, retry_count, quality_spec_json, quality_check_json, metadata_json, created_at, started_at, completed_at
		FROM print_jobs WHERE status = ? ORDER BY priority DESC, created_at ASC LIMIT ? OFFSET ?
	`

	ListJobs = `
		SELECT id, order_ref, book_ref, region, printer_id, status, priority, retry_count, quality_spec_json, quality_check_json, metadata_json, created_at, started_at, completed_at
		FROM print_jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	ListJobsByPrinterAndStatus = `
		SELECT id, order_ref, book_ref, region, printer_id, status, priority, retry_count, quality_spec_json, quality_check_json, metadata_json, created_at, started_at, completed_at
		FROM print_jobs WHERE printer_id = ? AND status = ? ORDER BY created_at ASC
	`

	// CASJobStatus is the optimistic-concurrency transition update: it only
	// fires when the row still carries the expected status.
	CASJobStatus = `
		UPDATE print_jobs
		SET status = ?, printer_id = ?, priority = ?, retry_count = ?, quality_check_json = ?, metadata_json = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

	InsertJobEvent = `
		INSERT INTO job_events (job_id, event, printer_id, detail)
		VALUES (?, ?, ?, ?)
	`

	ListJobEvents = `
		SELECT event, printer_id, detail, created_at
		FROM job_events WHERE job_id = ? ORDER BY id ASC
	`
)
