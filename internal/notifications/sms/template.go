package sms

import (
	"strings"

	"sphyra/internal/notifications/core"
)

// RenderReminder builds the reminder text. It stays short enough for two
// concatenated SMS segments in the common case.
func RenderReminder(to core.Recipient, msg core.Message, signature string) string {
	var b strings.Builder
	b.WriteString("Ciao " + to.FirstName() + "!\n\n")
	b.WriteString("Promemoria appuntamento:\n")
	b.WriteString("📅 " + core.FormatDateIT(msg.Date) + "\n")
	b.WriteString("🕐 Ore " + msg.StartTime + "\n")
	b.WriteString("✨ " + msg.ServiceName + "\n")
	b.WriteString("👤 Con " + msg.StaffName + "\n\n")
	if msg.ConfirmationURL != "" {
		b.WriteString("Conferma qui: " + msg.ConfirmationURL + "\n\n")
	}
	b.WriteString(signature)
	return b.String()
}
