package meta

import (
	"unique"

	"golang.org/x/text/unicode/norm"
)

// Intern returns the canonical copy of s. Names are NFC-normalized first so
// visually identical identifiers from different sources share one entry.
func Intern(s string) string {
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return unique.Make(s).Value()
}
