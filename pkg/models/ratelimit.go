package models

import "time"

// RateWindow is one fixed counting window. A window past ResetAt is replaced,
// never decremented.
type RateWindow struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window has ended at now.
func (w RateWindow) Expired(now time.Time) bool {
	return now.After(w.ResetAt)
}
