package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the outcome of one run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Counts are the per-run document and chunk tallies.
type Counts struct {
	Loaded   int `json:"loaded"`
	New      int `json:"new"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Chunked  int `json:"chunked"`
	Upserted int `json:"upserted"`
	Removed  int `json:"removed"`
}

// Report describes one completed run. Reports are immutable once
// written; the reports log is append-only JSON lines.
type Report struct {
	JobID     string    `json:"job_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    Status    `json:"status"`
	Mode      string    `json:"mode"`
	Counts    Counts    `json:"counts"`
	Errors    []string  `json:"error_list,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// ExitCode maps a report to the process exit code contract:
// 0 success, 1 partial success, 2 pipeline failure.
func (r Report) ExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	default:
		return 2
	}
}

// AppendReport writes one report as a JSON line to the reports log.
func AppendReport(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open reports log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

// ReadReports returns up to limit reports from the log, newest first.
// A limit of zero or less means all.
func ReadReports(path string, limit int) ([]Report, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Report{}, nil
		}
		return nil, fmt.Errorf("failed to open reports log: %w", err)
	}
	defer f.Close()

	var reports []Report
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r Report
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			// Tolerate a torn trailing line; a report log is advisory.
			continue
		}
		reports = append(reports, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan reports log: %w", err)
	}

	// Newest first.
	for i, j := 0, len(reports)-1; i < j; i, j = i+1, j-1 {
		reports[i], reports[j] = reports[j], reports[i]
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
