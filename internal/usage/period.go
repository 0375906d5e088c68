package usage

import "time"

// PeriodKeyLayout formats a period start as its storage key.
const PeriodKeyLayout = "2006-01-02"

// PeriodInfo is the accounting window enclosing a reference instant.
type PeriodInfo struct {
	PeriodKey   string    `json:"periodKey"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	// Expired is only ever set for fixed trial windows that now lies past.
	Expired bool `json:"-"`
}

// PeriodFor dispatches to the window semantics of the plan.
func PeriodFor(plan PlanConfig, anchor, now time.Time) PeriodInfo {
	if plan.Period == PeriodTrial {
		return TrialPeriod(anchor, now, plan.TrialDays)
	}
	return MonthlyPeriod(anchor, now)
}

// MonthlyPeriod returns the recurring monthly window anchored on the
// day-of-month of anchor. Both instants are truncated to their UTC date.
//
// When the anchor day does not exist in a month it is clamped to that month's
// last day: anchor 2024-01-31 yields periods starting 01-31, 02-29, 03-31.
// Overflowing into the next month (01-31 to 03-02) is deliberately not used,
// so every period starts inside the month it is named for.
// A now earlier than anchor yields the first period.
func MonthlyPeriod(anchor, now time.Time) PeriodInfo {
	a := utcDate(anchor)
	n := utcDate(now)

	months := 0
	if !n.Before(a) {
		months = (n.Year()-a.Year())*12 + int(n.Month()-a.Month())
		if addMonthsClamped(a, months).After(n) {
			months--
		}
	}

	start := addMonthsClamped(a, months)
	return PeriodInfo{
		PeriodKey:   start.Format(PeriodKeyLayout),
		PeriodStart: start,
		PeriodEnd:   addMonthsClamped(a, months+1),
	}
}

// TrialPeriod returns the fixed window [anchor, anchor+days). It never rolls.
func TrialPeriod(anchor, now time.Time, days int) PeriodInfo {
	start := utcDate(anchor)
	end := start.AddDate(0, 0, days)
	return PeriodInfo{
		PeriodKey:   start.Format(PeriodKeyLayout),
		PeriodStart: start,
		PeriodEnd:   end,
		Expired:     !utcDate(now).Before(end),
	}
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addMonthsClamped(t time.Time, n int) time.Time {
	// time.Date normalizes month overflow, so day 1 is always safe.
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
