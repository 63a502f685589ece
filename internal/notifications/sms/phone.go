package sms

import (
	"fmt"
	"regexp"
	"strings"

	"sphyra/internal/types"
)

var (
	e164Pattern   = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
)

// NormalizePhone converts a stored phone number to E.164. It strips
// separators, turns a leading "00" into "+", and prefixes bare ten-digit
// Italian mobile numbers (starting with 3) with +39.
func NormalizePhone(phone string) (string, error) {
	n := phoneStripper.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(n, "00") {
		n = "+" + n[2:]
	}
	if len(n) == 10 && strings.HasPrefix(n, "3") {
		n = "+39" + n
	}

	if !e164Pattern.MatchString(n) {
		return "", types.NewAppError(
			types.ErrCodePhoneFormatInvalid,
			fmt.Sprintf("Invalid phone number format: %s. Expected E.164 format (e.g., +393331234567)", phone),
			nil,
		)
	}
	return n, nil
}

// RedactPhone keeps the country prefix and the last two digits:
// "+393331234567" becomes "+39********67".
func RedactPhone(phone string) string {
	if len(phone) <= 5 {
		return "***"
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}
