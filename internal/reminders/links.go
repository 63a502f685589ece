package reminders

import (
	"net/url"
	"strings"
)

// BuildConfirmationLink returns <frontend>/confirm-appointment/<id>/<token>.
func BuildConfirmationLink(frontendURL, appointmentID, token string) string {
	return strings.TrimRight(frontendURL, "/") +
		"/confirm-appointment/" + url.PathEscape(appointmentID) +
		"/" + url.PathEscape(token)
}
