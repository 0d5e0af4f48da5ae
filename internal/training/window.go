package training

import "time"

// Window is the daily half-open delivery window [Start, End) in local hours.
type Window struct {
	Start int
	End   int
	Loc   *time.Location
}

func (w Window) Contains(t time.Time) bool {
	loc := w.Loc
	if loc == nil {
		loc = time.Local
	}
	h := t.In(loc).Hour()
	return h >= w.Start && h < w.End
}
