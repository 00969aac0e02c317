// Package cron parses 5-field cron expressions and computes fire instants in
// an IANA timezone.
//
// Next-fire computation works on wall-clock time: the nominal next local time
// is found first and only then resolved to an instant in the location. Two
// DST cases resolve deterministically:
//
//   - a wall time that occurs twice (clocks fall back) resolves to the
//     earlier instant only;
//   - a wall time that does not exist (clocks spring forward) resolves with
//     the pre-transition offset, i.e. it moves forward by the gap length.
//
// Each resolved instant is returned at most once, so nominal times that
// collapse onto the same instant produce a single firing.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrUnknownTimezone   = errors.New("unknown timezone")
)

// maxResolveSteps bounds the search when consecutive nominal times all
// resolve to instants that are not after the reference point.
const maxResolveSteps = 128

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse validates expression and timezone and returns the combined schedule.
// Errors wrap ErrInvalidExpression or ErrUnknownTimezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	expr := strings.TrimSpace(expression)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: %q: timezone prefix is not allowed", ErrInvalidExpression, expression)
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expression, err)
	}

	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// LoadLocation loads an IANA zone. Empty and "Local" are rejected so a
// schedule never depends on the host's zone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, timezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTimezone, timezone, err)
	}
	return loc, nil
}

type Schedule interface {
	// Next returns the first fire instant strictly after the given time, in
	// the schedule's location. The zero time means no future instant exists.
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	wall := floating(after.In(s.loc))
	for i := 0; i < maxResolveSteps; i++ {
		nominal := s.sched.Next(wall)
		if nominal.IsZero() {
			return time.Time{}
		}
		instant := resolve(nominal, s.loc)
		if instant.After(after) {
			return instant
		}
		wall = nominal
	}
	return time.Time{}
}

// floating re-labels a local wall time as the same reading in UTC, where
// every wall time exists exactly once.
func floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// resolve maps a floating wall time to an instant in loc.
func resolve(wall time.Time, loc *time.Location) time.Time {
	before := offsetAt(wall.Add(-24*time.Hour), loc)
	after := offsetAt(wall.Add(24*time.Hour), loc)

	var best time.Time
	for _, off := range []int{before, after} {
		candidate := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if !floating(candidate).Equal(wall) {
			continue
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if !best.IsZero() {
		return best
	}

	// Nonexistent wall time: apply the offset in force before the gap.
	return wall.Add(-time.Duration(before) * time.Second).In(loc)
}

// offsetAt returns the zone offset of loc around the floating time t.
func offsetAt(t time.Time, loc *time.Location) int {
	_, off := t.In(loc).Zone()
	return off
}
