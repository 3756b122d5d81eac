package text

import "golang.org/x/text/unicode/norm"

// NormalizeNFC returns the canonical composition of s. Equal inputs always
// normalize identically.
func NormalizeNFC(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}

	return norm.NFC.String(s)
}
