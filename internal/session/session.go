// Package session implements the pure market-session gate: weekends are
// closed, otherwise the current wall-clock time in the configured
// timezone is compared against an [open, close) window.
package session

import "time"

// Window is the configured trading session.
type Window struct {
	Location   *time.Location
	OpenHour   int
	OpenMinute int
	CloseHour  int
	CloseMinute int
}

// IsOpen reports whether the exchange is in session at now. Monitor and
// Notifier both gate on this; cron jobs (cleanup, expire-positions) do
// not call it, running at fixed local times regardless.
func (w Window) IsOpen(now time.Time) bool {
	local := now.In(w.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	openMinuteOfDay := w.OpenHour*60 + w.OpenMinute
	closeMinuteOfDay := w.CloseHour*60 + w.CloseMinute

	return minuteOfDay >= openMinuteOfDay && minuteOfDay < closeMinuteOfDay
}
