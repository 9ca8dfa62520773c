// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package report

import (
	"fmt"
	"time"
)

// Range is a resolved report window. From is inclusive; To is inclusive for
// relative periods (it is the generation time) and exclusive for custom ones.
type Range struct {
	From time.Time
	To   time.Time
	// Until bounds the store query; nil means up to the query time.
	Until *time.Time
}

// Resolve turns a period into a concrete range relative to now. Months and
// years are calendar arithmetic; the empty period and any unknown period cover
// defaultDays days.
func Resolve(p Period, now time.Time, from, to *time.Time, defaultDays int) (Range, error) {
	if defaultDays <= 0 {
		defaultDays = 30
	}

	switch p {
	case PeriodWeek:
		return Range{From: now.AddDate(0, 0, -7), To: now}, nil
	case PeriodMonth:
		return Range{From: now.AddDate(0, -1, 0), To: now}, nil
	case PeriodQuarter:
		return Range{From: now.AddDate(0, -3, 0), To: now}, nil
	case PeriodYear:
		return Range{From: now.AddDate(-1, 0, 0), To: now}, nil
	case PeriodCustom:
		if from == nil || to == nil {
			return Range{}, fmt.Errorf("%w: custom period requires from and to", ErrInvalidRequest)
		}
		if !from.Before(*to) {
			return Range{}, fmt.Errorf("%w: from must be before to", ErrInvalidRequest)
		}
		until := *to
		return Range{From: *from, To: *to, Until: &until}, nil
	default:
		return Range{From: now.AddDate(0, 0, -defaultDays), To: now}, nil
	}
}
