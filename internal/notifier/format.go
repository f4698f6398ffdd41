package notifier

import (
	"fmt"
	"strings"
	"time"

	"calremind/internal/reminder"
)

// Format renders r as a short plain-text message in the event's zone.
func Format(r reminder.Reminder) string {
	loc := time.UTC
	if r.TimeZone != "" {
		if l, err := time.LoadLocation(r.TimeZone); err == nil {
			loc = l
		}
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = r.EventID
	}

	var b strings.Builder
	b.WriteString("⏰ ")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(r.OccurrenceAt.In(loc).Format("Mon 2 Jan 15:04 MST"))
	if r.Offset > 0 {
		fmt.Fprintf(&b, " (in %s)", humanOffset(r.Offset))
	}
	if d := strings.TrimSpace(r.Description); d != "" {
		b.WriteString("\n")
		b.WriteString(d)
	}
	return b.String()
}

func humanOffset(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h >= 24 && h%24 == 0 && m == 0:
		return fmt.Sprintf("%dd", h/24)
	case h > 0 && m == 0:
		return fmt.Sprintf("%dh", h)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
