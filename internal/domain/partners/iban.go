package partners

import "strings"

// ValidIBAN reports whether s passes the ISO 13616 mod-97 check.
// Spaces are ignored and letters are case-insensitive.
func ValidIBAN(s string) bool {
	iban := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}

	// The country code and check digits move to the end before the
	// mod-97 reduction.
	rearranged := iban[4:] + iban[:4]

	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			// Letters expand to two digits (A=10 .. Z=35).
			rem = (rem*100 + int(r-'A') + 10) % 97
		default:
			return false
		}
	}
	return rem == 1
}
