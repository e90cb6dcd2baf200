package notification

import "time"

// BusinessHours marks alerts created outside [StartHour, EndHour) as offline.
// Windows may wrap midnight (22 to 6). Equal hours mean always online.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

func (h BusinessHours) IsOffline(at time.Time) bool {
	if h.StartHour == h.EndHour {
		return false
	}

	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := at.In(loc).Hour()

	if h.StartHour < h.EndHour {
		return hour < h.StartHour || hour >= h.EndHour
	}
	return hour < h.StartHour && hour >= h.EndHour
}
