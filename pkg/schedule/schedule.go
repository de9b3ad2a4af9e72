// Package schedule computes run times for recurring maintenance work from
// either a fixed interval or a cron expression.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind represents the type of schedule.
type Kind string

const (
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Schedule is a time specification for recurring work.
type Schedule struct {
	Kind Kind `json:"kind"`

	// For "every" schedules.
	Every    time.Duration `json:"every,omitempty"`
	AnchorMs *int64        `json:"anchorMs,omitempty"` // optional alignment point

	// For "cron" schedules (5-field format).
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"` // optional timezone
}

// NextRun calculates the next run time after now.
func (s Schedule) NextRun(now time.Time) (time.Time, error) {
	switch s.Kind {
	case KindEvery:
		return s.nextEvery(now)
	case KindCron:
		return s.nextCron(now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

func (s Schedule) nextEvery(now time.Time) (time.Time, error) {
	if s.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
	}

	// Without an anchor: next run is now + interval.
	if s.AnchorMs == nil {
		return now.Add(s.Every), nil
	}

	// With an anchor: next run aligns to anchor + N*interval. UnixMilli
	// yields a Local-zone time; keep the caller's zone.
	anchor := time.UnixMilli(*s.AnchorMs).In(now.Location())
	if anchor.After(now) {
		return anchor, nil
	}

	elapsed := now.Sub(anchor)
	periods := elapsed / s.Every
	return anchor.Add((periods + 1) * s.Every), nil
}

func (s Schedule) nextCron(now time.Time) (time.Time, error) {
	if s.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(s.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if s.TZ != "" {
		loc, err := time.LoadLocation(s.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}
