// Package health aggregates ledger integrity, vector-store
// reachability, backup state, configuration sanity, and system resource
// pressure into one overall status with recommendations. Health checks
// report problems; they never fail a pipeline run.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressridge/blogidx/internal/clock"
	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/ledger"
	"github.com/pressridge/blogidx/internal/monitor"
)

// Status is an ordered severity scale.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// rank orders statuses for worst-of aggregation.
func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 3
	}
}

// Resource pressure thresholds.
const (
	warnPercent     = 80.0
	criticalPercent = 95.0
	// maxBackupAge flags stale backups.
	maxBackupAge = 30 * 24 * time.Hour
)

// Check is one named probe result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Report is the aggregate health view.
type Report struct {
	Overall         Status    `json:"overall"`
	Checks          []Check   `json:"checks"`
	Recommendations []string  `json:"recommendations"`
	Errors          []string  `json:"errors"`
	CheckedAt       time.Time `json:"checked_at"`
}

// StoreProber is the minimal vector-store surface the checker needs.
type StoreProber interface {
	ValidateHealth(ctx context.Context) bool
}

// Checker runs the five standard checks.
type Checker struct {
	cfg    *config.Config
	led    *ledger.Ledger
	store  StoreProber
	mon    *monitor.Monitor
	clk    clock.Clock
	logger *slog.Logger
}

// New creates a Checker. Store may be nil when no collection is open;
// that check then reports a warning.
func New(cfg *config.Config, led *ledger.Ledger, store StoreProber, mon *monitor.Monitor, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{cfg: cfg, led: led, store: store, mon: mon, clk: clock.NewReal(), logger: logger}
}

// SetClock replaces the time source.
func (c *Checker) SetClock(clk clock.Clock) {
	if clk != nil {
		c.clk = clk
	}
}

// Run executes all checks and aggregates the worst status.
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{Overall: StatusHealthy, CheckedAt: c.clk.Now().UTC()}

	checks := []func(context.Context) (Check, []string){
		c.checkLedger,
		c.checkStore,
		c.checkBackups,
		c.checkConfig,
		c.checkResources,
	}

	for _, fn := range checks {
		check, recs := c.runSafely(ctx, fn)
		report.Checks = append(report.Checks, check)
		report.Recommendations = append(report.Recommendations, recs...)
		if check.Status == StatusError {
			report.Errors = append(report.Errors, check.Message)
		}
		if rank(check.Status) > rank(report.Overall) {
			report.Overall = check.Status
		}
	}
	return report
}

// runSafely guards a check against panics; a crashed check reports
// error status instead of taking the process down.
func (c *Checker) runSafely(ctx context.Context, fn func(context.Context) (Check, []string)) (check Check, recs []string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("health check panicked", slog.Any("panic", r))
			check = Check{Name: "internal", Status: StatusError, Message: fmt.Sprintf("check panicked: %v", r)}
		}
	}()
	return fn(ctx)
}

func (c *Checker) checkLedger(ctx context.Context) (Check, []string) {
	check := Check{Name: "ledger_integrity", Status: StatusHealthy}

	rows, err := c.led.Load()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check, []string{"restore the ledger from its latest backup"}
	}
	check.Message = fmt.Sprintf("%d rows", len(rows))
	return check, nil
}

func (c *Checker) checkStore(ctx context.Context) (Check, []string) {
	check := Check{Name: "vector_store", Status: StatusHealthy, Message: "reachable"}

	if c.store == nil {
		check.Status = StatusWarning
		check.Message = "no vector store open"
		return check, []string{"run the pipeline once to create the collection"}
	}
	if !c.store.ValidateHealth(ctx) {
		check.Status = StatusUnhealthy
		check.Message = "store probe failed"
		return check, []string{"verify the vector store endpoint or on-disk index"}
	}
	return check, nil
}

func (c *Checker) checkBackups(ctx context.Context) (Check, []string) {
	check := Check{Name: "backups", Status: StatusHealthy}
	var recs []string

	backups, err := c.led.Backups()
	if err != nil {
		check.Status = StatusError
		check.Message = err.Error()
		return check, nil
	}
	check.Message = fmt.Sprintf("%d backups", len(backups))

	if len(backups) > c.cfg.MaxBackupFiles {
		check.Status = StatusWarning
		recs = append(recs, fmt.Sprintf("backup count %d exceeds the configured limit of %d; cleanup is overdue",
			len(backups), c.cfg.MaxBackupFiles))
	}
	if age, err := c.led.OldestBackupAge(); err == nil && age > maxBackupAge {
		check.Status = StatusWarning
		recs = append(recs, "oldest ledger backup is stale; consider refreshing backups")
	}
	return check, recs
}

func (c *Checker) checkConfig(ctx context.Context) (Check, []string) {
	check := Check{Name: "configuration", Status: StatusHealthy, Message: "valid"}

	if err := c.cfg.Validate(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check, []string{"fix the configuration before the next run"}
	}
	return check, nil
}

func (c *Checker) checkResources(ctx context.Context) (Check, []string) {
	check := Check{Name: "system_resources", Status: StatusHealthy}
	var recs []string

	stats := c.mon.Stats()
	check.Message = fmt.Sprintf("memory %.0f%%, cpu %.0f%%, disk %.0f%%",
		stats.MemoryPercent, stats.CPUPercent, stats.DiskPercent)

	worst := StatusHealthy
	for name, pct := range map[string]float64{
		"memory": stats.MemoryPercent,
		"cpu":    stats.CPUPercent,
		"disk":   stats.DiskPercent,
	} {
		switch {
		case pct >= criticalPercent:
			worst = StatusUnhealthy
			recs = append(recs, fmt.Sprintf("%s usage is critical (%.0f%%)", name, pct))
		case pct >= warnPercent:
			if rank(worst) < rank(StatusWarning) {
				worst = StatusWarning
			}
			recs = append(recs, fmt.Sprintf("%s usage is high (%.0f%%); consider a smaller batch size", name, pct))
		}
	}
	check.Status = worst
	return check, recs
}
