// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package schedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type CronExpression struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6, Sunday is 0

	source string
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses expr. Each field accepts *, n, n-m, lists joined with
// commas, */s and n-m/s. Day-of-week 7 is folded into 0.
func ParseCron(expr string) (*CronExpression, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(parts))
	}

	var values [5][]int
	for i, f := range cronFields {
		v, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %s field: %w", expr, f.name, err)
		}
		values[i] = v
	}

	dow := values[4]
	for i, d := range dow {
		if d == 7 {
			dow[i] = 0
		}
	}

	return &CronExpression{
		Minutes:     values[0],
		Hours:       values[1],
		DaysOfMonth: values[2],
		Months:      values[3],
		DaysOfWeek:  sortedUnique(dow),
		source:      strings.Join(parts, " "),
	}, nil
}

// String returns the normalized source expression.
func (c *CronExpression) String() string { return c.source }

// NextRun returns the first matching minute strictly after after, evaluated
// in loc (UTC when nil). The zero time means nothing matches within four
// years.
func (c *CronExpression) NextRun(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for !t.After(limit) {
		// Skip whole hours and days that cannot match.
		if !slices.Contains(c.Months, int(t.Month())) || !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !slices.Contains(c.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if slices.Contains(c.Minutes, t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// Matches reports whether t (in its own location) satisfies the expression.
func (c *CronExpression) Matches(t time.Time) bool {
	return slices.Contains(c.Minutes, t.Minute()) &&
		slices.Contains(c.Hours, t.Hour()) &&
		slices.Contains(c.Months, int(t.Month())) &&
		c.dayMatches(t)
}

// dayMatches applies the cron rule that a restricted day-of-month and a
// restricted day-of-week are OR'd, while a wildcard defers to the other.
func (c *CronExpression) dayMatches(t time.Time) bool {
	domAny := len(c.DaysOfMonth) == 31
	dowAny := len(c.DaysOfWeek) == 7
	dom := slices.Contains(c.DaysOfMonth, t.Day())
	dow := slices.Contains(c.DaysOfWeek, int(t.Weekday()))

	switch {
	case domAny && dowAny:
		return true
	case domAny:
		return dow
	case dowAny:
		return dom
	default:
		return dom || dow
	}
}

func parseField(field string, lo, hi int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(field, ",") {
		v, err := parsePart(part, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return sortedUnique(out), nil
}

func parsePart(part string, lo, hi int) ([]int, error) {
	if part == "" {
		return nil, fmt.Errorf("empty value")
	}

	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	start, end := lo, hi
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if start, err = atoiInRange(a, lo, hi); err != nil {
			return nil, err
		}
		if end, err = atoiInRange(b, lo, hi); err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("invalid range %d-%d", start, end)
		}
	default:
		v, err := atoiInRange(part, lo, hi)
		if err != nil {
			return nil, err
		}
		start = v
		if step == 1 {
			end = v
		}
	}

	out := make([]int, 0, (end-start)/step+1)
	for v := start; v <= end; v += step {
		out = append(out, v)
	}
	return out, nil
}

func atoiInRange(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, lo, hi)
	}
	return v, nil
}

func sortedUnique(v []int) []int {
	slices.Sort(v)
	return slices.Compact(v)
}
