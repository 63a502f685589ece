package core

import (
	"fmt"
	"time"
)

var italianWeekdays = [...]string{"domenica", "lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "sabato"}

var italianMonths = [...]string{
	"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
	"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre",
}

// FormatDateIT renders a calendar day the way customers read it, e.g.
// "giovedì 21 dicembre 2023".
func FormatDateIT(t time.Time) string {
	return fmt.Sprintf("%s %d %s %d", italianWeekdays[t.Weekday()], t.Day(), italianMonths[t.Month()-1], t.Year())
}
