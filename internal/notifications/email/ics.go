package email

import (
	"fmt"
	"strings"
	"time"
)

// ICSEvent describes the appointment exported as an iCalendar invitation.
type ICSEvent struct {
	AppointmentID   string
	Date            time.Time // calendar day
	StartTime       string    // HH:MM, studio local time
	EndTime         string    // HH:MM, studio local time
	ServiceName     string
	ServiceDuration int
	StaffName       string
	AttendeeName    string
	AttendeeEmail   string
	Stamp           time.Time
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, "\n", `\n`)

// EscapeICSText escapes an RFC 5545 TEXT value.
func EscapeICSText(s string) string {
	return icsEscaper.Replace(s)
}

// icsLocalDateTime renders a floating local date-time (no Z, no TZID) so the
// calendar client shows the wall-clock time the studio booked.
func icsLocalDateTime(day time.Time, hhmm string) string {
	return day.Format("20060102") + "T" + strings.ReplaceAll(hhmm, ":", "") + "00"
}

// BuildICS renders a METHOD:REQUEST VCALENDAR with one VEVENT and a one-hour
// display alarm. Lines are CRLF-terminated.
func BuildICS(evt ICSEvent, studio StudioInfo) []byte {
	description := fmt.Sprintf("Appuntamento presso %s\nServizio: %s\nOperatore: %s\nDurata: %d minuti\n\nPer qualsiasi informazione contattaci direttamente.",
		studio.Name, evt.ServiceName, evt.StaffName, evt.ServiceDuration)

	location := studio.Name
	if studio.Address != "" {
		location = studio.Name + ", " + studio.Address
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//" + studio.Name + "//Appointment Reminder//IT",
		"CALSCALE:GREGORIAN",
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:" + evt.AppointmentID + "@" + studio.CalendarDomain,
		"DTSTAMP:" + evt.Stamp.UTC().Format("20060102T150405Z"),
		"DTSTART:" + icsLocalDateTime(evt.Date, evt.StartTime),
		"DTEND:" + icsLocalDateTime(evt.Date, evt.EndTime),
		"SUMMARY:" + EscapeICSText(evt.ServiceName),
		"DESCRIPTION:" + EscapeICSText(description),
		"LOCATION:" + EscapeICSText(location),
		"ORGANIZER;CN=" + EscapeICSText(studio.Name) + ":mailto:" + studio.Email,
		"ATTENDEE;CN=" + EscapeICSText(evt.AttendeeName) + ";RSVP=TRUE:mailto:" + evt.AttendeeEmail,
		"STATUS:CONFIRMED",
		"SEQUENCE:0",
		"BEGIN:VALARM",
		"TRIGGER:-PT1H",
		"ACTION:DISPLAY",
		"DESCRIPTION:Promemoria: Appuntamento tra 1 ora",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}
