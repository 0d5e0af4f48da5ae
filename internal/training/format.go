package training

import "fmt"

// FormatLatency renders whole seconds the way operators read them:
// "45 сек", "2 мин 5 сек", "1 ч 3 мин".
func FormatLatency(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d сек", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d мин %d сек", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%d ч %d мин", seconds/3600, seconds%3600/60)
	}
}
