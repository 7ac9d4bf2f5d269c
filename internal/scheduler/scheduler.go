// Package scheduler implements the confidence-weighted SM-2 review
// scheduler. It is pure computation: no clocks other than the caller's
// base time, no I/O, no storage.
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SM2State is the per (user, card) scheduling triple carried between
// reviews. A card that has never been reviewed starts at NewState().
type SM2State struct {
	RepetitionCount int
	EaseFactor      float64
	IntervalDays    int
}

// NewState returns the SM-2 seed for a card with no review history.
func NewState() SM2State {
	return SM2State{RepetitionCount: 0, EaseFactor: 2.5, IntervalDays: 0}
}

const minEaseFactor = 1.3

// Quality buckets a continuous grader confidence into the SM-2 grade
// scale 0-5. An incorrect answer forces grade 0 regardless of how
// confident the grader was in its verdict.
func Quality(confidence float64, correct bool) int {
	if !correct {
		return 0
	}
	switch {
	case confidence < 0.3:
		return 0
	case confidence < 0.5:
		return 1
	case confidence < 0.7:
		return 2
	case confidence < 0.8:
		return 3
	case confidence < 0.9:
		return 4
	default:
		return 5
	}
}

// SM2 applies one classic SM-2 update for the given grade.
//
// grade < 3 resets the repetition count and the interval to one day.
// Otherwise the interval grows 1 -> 6 -> round(interval * EF). The ease
// factor moves by 0.1 - (5-q)*(0.08 + (5-q)*0.02) and is floored at 1.3;
// it may grow without bound.
func SM2(state SM2State, quality int) SM2State {
	next := state
	if quality < 3 {
		next.RepetitionCount = 0
		next.IntervalDays = 1
	} else {
		next.RepetitionCount = state.RepetitionCount + 1
		switch next.RepetitionCount {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(state.IntervalDays) * state.EaseFactor))
		}
	}

	q := float64(quality)
	next.EaseFactor = state.EaseFactor + 0.1 - (5-q)*(0.08+(5-q)*0.02)
	if next.EaseFactor < minEaseFactor {
		next.EaseFactor = minEaseFactor
	}
	return next
}

// ConfidenceAdjust layers a smoothing multiplier on top of the coarse
// SM-2 interval. High-confidence correct answers stretch the interval,
// shaky correct answers shrink it, and incorrect answers are clamped to
// at least one day.
func ConfidenceAdjust(intervalDays int, correct bool, confidence float64) int {
	if !correct {
		if intervalDays < 1 {
			return 1
		}
		return intervalDays
	}
	switch {
	case confidence >= 0.9:
		return int(math.Round(float64(intervalDays) * 1.2))
	case confidence >= 0.8:
		return int(math.Round(float64(intervalDays) * 1.1))
	case confidence < 0.7:
		adjusted := int(math.Round(float64(intervalDays) * 0.9))
		if adjusted < 1 {
			return 1
		}
		return adjusted
	default:
		return intervalDays
	}
}

// ErrBadTimezone reports an unresolvable IANA timezone name. Callers in
// a multi-user batch skip the affected user instead of aborting.
var ErrBadTimezone = errors.New("invalid timezone")

// NextReview computes the next delivery instant: base plus the interval,
// snapped into the user's local delivery window [startHour, endHour).
// When the naive slot lands outside the window it moves to startHour on
// the following local day. The result is a UTC instant strictly after
// base whose local hour lies inside the window.
func NextReview(base time.Time, intervalDays, startHour, endHour int, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrBadTimezone, timezone, err)
	}

	target := base.Add(time.Duration(intervalDays) * 24 * time.Hour).In(loc)
	if target.Hour() < startHour || target.Hour() >= endHour {
		next := target.AddDate(0, 0, 1)
		target = time.Date(next.Year(), next.Month(), next.Day(), startHour, 0, 0, 0, loc)
	}

	// Degenerate inputs (zero interval with an in-window local hour at
	// exactly base) must still move forward.
	if !target.After(base) {
		next := target.AddDate(0, 0, 1)
		target = time.Date(next.Year(), next.Month(), next.Day(), startHour, 0, 0, 0, loc)
	}
	return target.UTC(), nil
}
