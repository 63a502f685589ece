// Package email implements the email reminder channel: template rendering,
// the iCalendar attachment, and delivery through an external EmailProvider
// (SendGrid).
package email

import (
	"sphyra/internal/types"
)

// IsBlocklistError reports whether the provider refused the recipient
// (suppression list, spam report). Such failures are permanent.
func IsBlocklistError(err error) bool {
	return types.HasCode(err, types.ErrCodeEmailBlocked)
}
