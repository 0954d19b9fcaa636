package updates

import "time"

// Policy gates automatic update checks.
type Policy struct {
	Enabled       bool
	CheckInterval time.Duration
	LastCheck     time.Time
}

// Due reports whether an automatic check should run at now.
func (p Policy) Due(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.LastCheck.IsZero() {
		return true
	}
	return now.Sub(p.LastCheck) >= p.CheckInterval
}
