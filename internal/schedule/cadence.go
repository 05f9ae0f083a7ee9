// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultTimeOfDay is used when a collection has no preferred refresh time.
const DefaultTimeOfDay = "03:00"

// Cadence is the trigger derived from a collection's refresh interval and
// preferred time of day.
type Cadence struct {
	IntervalHours int    `json:"interval_hours"`
	TimeOfDay     string `json:"time_of_day"`
	Cron          string `json:"cron"`
	Description   string `json:"description"`

	expr *CronExpression
}

// Expression returns the parsed cron expression.
func (c Cadence) Expression() *CronExpression { return c.expr }

// CadenceFor maps an interval to a cron trigger:
//
//	<= 1h     every hour at the configured minute
//	< 24h     every N hours at the configured minute
//	= 24h     daily at the configured time
//	<= 168h   every round(hours/24) days at the configured time
//	> 168h    monthly on day 1 at the configured time
func CadenceFor(intervalHours int, timeOfDay string) (Cadence, error) {
	if intervalHours <= 0 {
		return Cadence{}, fmt.Errorf("refresh interval must be positive, got %dh", intervalHours)
	}
	if timeOfDay == "" {
		timeOfDay = DefaultTimeOfDay
	}
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return Cadence{}, err
	}
	clock := fmt.Sprintf("%02d:%02d", hour, minute)

	var cron, desc string
	switch {
	case intervalHours <= 1:
		cron = fmt.Sprintf("%d * * * *", minute)
		desc = fmt.Sprintf("every hour at minute %d", minute)
	case intervalHours < 24:
		cron = fmt.Sprintf("%d */%d * * *", minute, intervalHours)
		desc = fmt.Sprintf("every %d hours at minute %d", intervalHours, minute)
	case intervalHours == 24:
		cron = fmt.Sprintf("%d %d * * *", minute, hour)
		desc = "daily at " + clock
	case intervalHours <= 168:
		days := int(math.Round(float64(intervalHours) / 24))
		if days <= 1 {
			cron = fmt.Sprintf("%d %d * * *", minute, hour)
			desc = "daily at " + clock
			break
		}
		cron = fmt.Sprintf("%d %d */%d * *", minute, hour, days)
		desc = fmt.Sprintf("every %d days at %s", days, clock)
	default:
		cron = fmt.Sprintf("%d %d 1 * *", minute, hour)
		desc = "monthly on day 1 at " + clock
	}

	expr, err := ParseCron(cron)
	if err != nil {
		return Cadence{}, err
	}
	return Cadence{
		IntervalHours: intervalHours,
		TimeOfDay:     clock,
		Cron:          cron,
		Description:   desc,
		expr:          expr,
	}, nil
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	if hour, err = strconv.Atoi(h); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid time of day %q: bad hour", s)
	}
	if minute, err = strconv.Atoi(m); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q: bad minute", s)
	}
	return hour, minute, nil
}
