// Package validation holds the pure window validators that guard the
// Created -> Validated transition. Validators are plain values with no
// clock of their own: the caller passes now, which keeps them trivially
// testable without stubbing time.
package validation

import (
	"fmt"
	"time"

	"gridpass/internal/permission"
)

// FieldDataFrom is the field every window validator reports against.
const FieldDataFrom = "dataFrom"

// Validator checks one property of a candidate permission window.
type Validator interface {
	Validate(window permission.Window, now time.Time) []permission.AttributeError
}

// Chain runs every validator and aggregates the errors; it never
// short-circuits, so a malformed request reports all of its problems at once.
type Chain []Validator

func (c Chain) Validate(window permission.Window, now time.Time) []permission.AttributeError {
	var errs []permission.AttributeError
	for _, v := range c {
		errs = append(errs, v.Validate(window, now)...)
	}
	return errs
}

// CompletelyPastOrFuture rejects windows that straddle now. A window must lie
// entirely at or before now, or entirely strictly after it; mixing historical
// and future data in one request is not supported by any administrator.
type CompletelyPastOrFuture struct{}

func (CompletelyPastOrFuture) Validate(window permission.Window, now time.Time) []permission.AttributeError {
	if window.End == nil {
		// Open-ended windows deliver future data; a start in the past would
		// straddle now by construction.
		if window.Start.Before(now) {
			return []permission.AttributeError{{
				FieldName: FieldDataFrom,
				Message:   "open-ended window must not start in the past",
			}}
		}
		return nil
	}
	if !window.Start.After(now) && now.Before(*window.End) {
		return []permission.AttributeError{{
			FieldName: FieldDataFrom,
			Message:   "window must lie completely in the past or completely in the future",
		}}
	}
	return nil
}

// Unit is the calendar unit a NotOlderThan horizon is expressed in. Calendar
// arithmetic, not fixed durations: markets phrase their horizons as "3 years"
// and mean calendar years.
type Unit int

const (
	Days Unit = iota
	Months
	Years
)

func (u Unit) String() string {
	switch u {
	case Days:
		return "days"
	case Months:
		return "months"
	case Years:
		return "years"
	default:
		return "unknown"
	}
}

func (u Unit) sub(t time.Time, n int) time.Time {
	switch u {
	case Days:
		return t.AddDate(0, 0, -n)
	case Months:
		return t.AddDate(0, -n, 0)
	case Years:
		return t.AddDate(-n, 0, 0)
	default:
		return t
	}
}

// NotOlderThan rejects windows starting further back than the market
// operator keeps data. A start in the future never fails this check.
type NotOlderThan struct {
	N    int
	Unit Unit
}

func (v NotOlderThan) Validate(window permission.Window, now time.Time) []permission.AttributeError {
	cutoff := v.Unit.sub(now, v.N)
	if window.Start.Before(cutoff) {
		return []permission.AttributeError{{
			FieldName: FieldDataFrom,
			Message:   fmt.Sprintf("start must not be older than %d %s", v.N, v.Unit),
		}}
	}
	return nil
}

// StartBeforeOrEqualEnd rejects windows whose end precedes their start. A nil
// end and an end equal to the start both pass.
type StartBeforeOrEqualEnd struct{}

func (StartBeforeOrEqualEnd) Validate(window permission.Window, _ time.Time) []permission.AttributeError {
	if window.End != nil && window.End.Before(window.Start) {
		return []permission.AttributeError{{
			FieldName: FieldDataFrom,
			Message:   "start must be before or equal to end",
		}}
	}
	return nil
}
