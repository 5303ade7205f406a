package controlplane

import (
	"time"
	"unicode/utf8"
)

// ValidateUTF8 implements spec §6's UTF-8 discipline: any human-readable
// string routed through the control surface is replaced with the empty
// string if it is not valid UTF-8, rather than passed through to a bus
// library that may abort on invalid input.
func ValidateUTF8(s string) string {
	if !utf8.ValidString(s) {
		return ""
	}
	return s
}

func unixNanoToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
