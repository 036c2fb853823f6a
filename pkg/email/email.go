// Package email derives human-facing names for outgoing correspondence.
package email

import (
	"strings"
	"unicode"
)

// fallbackName is used when neither a name nor a usable address is known.
const fallbackName = "Applicant"

// DisplayName returns the name to greet a recipient with. A blank name falls
// back to one derived from the address local part, e.g. "grace.hopper@x"
// becomes "Grace Hopper".
func DisplayName(name, address string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	localPart := strings.TrimSpace(address)
	if at := strings.IndexByte(localPart, '@'); at >= 0 {
		localPart = localPart[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsSpace(r)
	})
	if len(parts) == 0 {
		return fallbackName
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
