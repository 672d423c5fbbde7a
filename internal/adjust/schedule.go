package adjust

import (
	"sort"
	"time"

	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Schedule is the cumulative split factor of one security as a step
// function of the observation date.
//
// For a date d:
//
//	d < anchor                 -> 1
//	anchor <= d < dates[0]     -> total
//	dates[k] <= d < dates[k+1] -> after[k]
//	d >= dates[last]           -> 1
//
// The anchor is the zero time unless the schedule was built with a legacy
// anchor cutoff.
type Schedule struct {
	anchor time.Time
	dates  []time.Time       // distinct split dates, ascending
	after  []decimal.Decimal // after[k]: product of factors dated after dates[k]
	total  decimal.Decimal   // product of every factor
}

// FactorAt returns the cumulative split factor that applies to prices
// observed on d.
func (s *Schedule) FactorAt(d time.Time) decimal.Decimal {
	if s == nil || len(s.dates) == 0 || d.Before(s.anchor) {
		return one
	}
	k := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(d) }) - 1
	if k < 0 {
		return s.total
	}
	return s.after[k]
}

// Breakpoints returns the split dates of the schedule in ascending order.
func (s *Schedule) Breakpoints() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Anchor returns the earliest date at which the full cumulative factor
// applies. It is the zero time when history is unbounded.
func (s *Schedule) Anchor() time.Time { return s.anchor }

type datedFactor struct {
	date   time.Time
	factor decimal.Decimal
	events int
}

// BuildSchedules groups split events by security and builds each security's
// step function from the events dated on or before asOf. Events sharing a
// (security, date) are multiplied together and reported as warnings. Only
// events dated on or before asOf must have a positive factor.
//
// With legacyAnchor set, the full cumulative factor only reaches back to one
// business day before the earliest split date in the whole table; older
// prices keep a factor of 1.
func BuildSchedules(splits []models.SplitEvent, asOf time.Time, legacyAnchor bool) (map[int64]*Schedule, []models.DegenerateGroupWarning, error) {
	if len(splits) == 0 {
		return map[int64]*Schedule{}, nil, nil
	}
	asOf = models.Date(asOf)

	// The legacy anchor sits before every split date in the full table, not
	// just the ones known as of asOf.
	earliest := models.Date(splits[0].SplitDate)
	for _, ev := range splits {
		if d := models.Date(ev.SplitDate); d.Before(earliest) {
			earliest = d
		}
	}
	var anchor time.Time
	if legacyAnchor {
		anchor = BusinessDayBefore(earliest)
	}

	groups := make(map[int64][]datedFactor)
	index := make(map[int64]map[time.Time]int)
	for _, ev := range splits {
		d := models.Date(ev.SplitDate)
		if d.After(asOf) {
			continue
		}
		if !ev.Factor.IsPositive() {
			return nil, nil, &models.FactorError{SecurityID: ev.SecurityID, SplitDate: ev.SplitDate, Factor: ev.Factor}
		}
		if index[ev.SecurityID] == nil {
			index[ev.SecurityID] = make(map[time.Time]int)
		}
		if i, ok := index[ev.SecurityID][d]; ok {
			g := groups[ev.SecurityID]
			g[i].factor = g[i].factor.Mul(ev.Factor)
			g[i].events++
			continue
		}
		index[ev.SecurityID][d] = len(groups[ev.SecurityID])
		groups[ev.SecurityID] = append(groups[ev.SecurityID], datedFactor{date: d, factor: ev.Factor, events: 1})
	}

	var warnings []models.DegenerateGroupWarning
	schedules := make(map[int64]*Schedule, len(groups))
	for id, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].date.Before(g[j].date) })

		s := &Schedule{
			anchor: anchor,
			dates:  make([]time.Time, len(g)),
			after:  make([]decimal.Decimal, len(g)),
		}
		running := one
		for k := len(g) - 1; k >= 0; k-- {
			s.dates[k] = g[k].date
			s.after[k] = running
			running = running.Mul(g[k].factor)

			if g[k].events > 1 {
				warnings = append(warnings, models.DegenerateGroupWarning{
					SecurityID: id,
					SplitDate:  g[k].date,
					Events:     g[k].events,
					Combined:   g[k].factor,
				})
			}
		}
		s.total = running
		schedules[id] = s
	}

	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].SecurityID != warnings[j].SecurityID {
			return warnings[i].SecurityID < warnings[j].SecurityID
		}
		return warnings[i].SplitDate.Before(warnings[j].SplitDate)
	})

	return schedules, warnings, nil
}

// BusinessDayBefore returns the last Monday-to-Friday date strictly before d.
func BusinessDayBefore(d time.Time) time.Time {
	d = models.Date(d).AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
