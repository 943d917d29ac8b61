// Package scheduler provides durable, single-process job scheduling for
// the indexing pipeline. Jobs bind a trigger (cron, interval, or
// one-shot) to an immutable configuration snapshot, persist across
// restarts, and never overlap with themselves.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

// Trigger types.
const (
	TriggerCron     = "cron"
	TriggerInterval = "interval"
	TriggerOneShot  = "oneshot"
)

// Trigger is a tagged variant describing when a job fires.
type Trigger struct {
	Type string `json:"type"`

	// Cron fields. Either Expression or the individual fields.
	Expression string `json:"expression,omitempty"`
	Minute     string `json:"minute,omitempty"`
	Hour       string `json:"hour,omitempty"`
	DayOfWeek  string `json:"day_of_week,omitempty"`

	// Interval fields. At least one must be positive.
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`

	// OneShot instant, UTC.
	RunAt time.Time `json:"run_at,omitempty"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronSpec assembles the effective cron expression.
func (t Trigger) cronSpec() string {
	if t.Expression != "" {
		return t.Expression
	}
	minute, hour, dow := t.Minute, t.Hour, t.DayOfWeek
	if minute == "" {
		minute = "0"
	}
	if hour == "" {
		hour = "*"
	}
	if dow == "" {
		dow = "*"
	}
	return fmt.Sprintf("%s %s * * %s", minute, hour, dow)
}

// interval returns the configured interval duration.
func (t Trigger) interval() time.Duration {
	return time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Days)*24*time.Hour
}

// Validate checks the trigger definition.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerCron:
		if _, err := cronParser.Parse(t.cronSpec()); err != nil {
			return idxerrors.New(idxerrors.ErrCodeTriggerInvalid,
				fmt.Sprintf("invalid cron trigger %q", t.cronSpec()), err)
		}
	case TriggerInterval:
		if t.interval() <= 0 {
			return idxerrors.Newf(idxerrors.ErrCodeTriggerInvalid,
				"interval trigger must have a positive duration")
		}
	case TriggerOneShot:
		if t.RunAt.IsZero() {
			return idxerrors.Newf(idxerrors.ErrCodeTriggerInvalid,
				"oneshot trigger needs a run_at instant")
		}
	default:
		return idxerrors.Newf(idxerrors.ErrCodeTriggerInvalid,
			"unknown trigger type %q", t.Type)
	}
	return nil
}

// NextFire computes the next fire time strictly after now. last is the
// previous fire time, zero on first schedule. A zero return means the
// trigger will never fire again.
func (t Trigger) NextFire(now, last time.Time) time.Time {
	switch t.Type {
	case TriggerCron:
		schedule, err := cronParser.Parse(t.cronSpec())
		if err != nil {
			return time.Time{}
		}
		return schedule.Next(now)
	case TriggerInterval:
		if last.IsZero() {
			return now.Add(t.interval())
		}
		next := last.Add(t.interval())
		if !next.After(now) {
			// Missed windows are not coalesced; schedule from now.
			next = now.Add(t.interval())
		}
		return next
	case TriggerOneShot:
		if !last.IsZero() {
			return time.Time{} // already fired
		}
		return t.RunAt
	default:
		return time.Time{}
	}
}

// Describe returns a short human-readable form for job listings.
func (t Trigger) Describe() string {
	switch t.Type {
	case TriggerCron:
		return "cron " + t.cronSpec()
	case TriggerInterval:
		return "every " + t.interval().String()
	case TriggerOneShot:
		return "once at " + t.RunAt.UTC().Format(time.RFC3339)
	default:
		return t.Type
	}
}
