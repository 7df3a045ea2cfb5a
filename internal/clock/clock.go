package clock

import "time"

// Clock abstracts "now" so the scan loop and status derivation can be tested
// by advancing a fake clock instead of sleeping wall-clock intervals.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// New returns a Clock backed by the system time in UTC.
func New() Clock { return realClock{} }

// DateOf truncates a timestamp to its calendar date in UTC. Due-date
// comparisons are calendar-driven, not instant-driven.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
