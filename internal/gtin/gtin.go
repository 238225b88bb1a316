// Package gtin validates product codes against the standard GTIN barcode
// lengths. Both functions are pure so the workflow's routing decision stays
// local and deterministic.
package gtin

import "strings"

var eligibleLengths = map[int]bool{8: true, 12: true, 13: true, 14: true}

// Clean strips whitespace and hyphens from a raw code as extracted by OCR.
func Clean(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// IsEligible reports whether a cleaned code qualifies for an exact registry
// lookup: all digits, length 8, 12, 13 or 14.
func IsEligible(cleaned string) bool {
	if !eligibleLengths[len(cleaned)] {
		return false
	}
	for _, ch := range cleaned {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
