// Package clock wraps monotonic and wall-clock time for logging and
// timestamp formatting: the IST zone, the log timestamp layout, and a
// Clock interface that tests can substitute. Other packages still call
// time.Now directly.
package clock

import "time"

// IST is the fixed UTC+5:30 offset used for log timestamps, per the
// operator-facing log format.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Layout is the timestamp format used in structured log records:
// YYYY-MM-DD HH:mm:ss.SSS
const Layout = "2006-01-02 15:04:05.000"

// Clock supplies the current time; production code uses realClock, tests
// can substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real is the production Clock backed by time.Now.
var Real Clock = realClock{}

// FormatIST renders t in IST using Layout.
func FormatIST(t time.Time) string {
	return t.In(IST).Format(Layout)
}

// NowIST returns the current time rendered in IST using Layout.
func NowIST() string {
	return FormatIST(time.Now())
}
