package logging

import "strings"

// MaskRecipient hides PII before a recipient address reaches the logs.
// Emails keep the first two characters and the domain; phone numbers keep
// the last four digits.
func MaskRecipient(recipient string) string {
	if at := strings.Index(recipient, "@"); at > 0 {
		local := recipient[:at]
		if len(local) > 2 {
			local = local[:2]
		}
		return local + "***@" + recipient[at+1:]
	}
	if len(recipient) > 4 {
		return "***" + recipient[len(recipient)-4:]
	}
	return "***"
}
