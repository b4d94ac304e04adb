// Package format renders player quantities for terminal output.
package format

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var byteSuffixes = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// Bytes formats a byte count with binary multiples, e.g. "1.5 KB".
func Bytes(n int64) string {
	if n < 0 {
		return "-" + Bytes(-n)
	}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v, i := float64(n), 0
	for v >= 1024 && i < len(byteSuffixes)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, byteSuffixes[i])
}

// Count formats an integer with thousands separators, e.g. "1,234,567".
func Count(n int64) string {
	return printer.Sprintf("%d", n)
}

// Position formats a presentation time in seconds as a clock, e.g.
// "1:05.0" or "1:02:05.5". NaN means unknown and +Inf is the live edge.
func Position(seconds float64) string {
	switch {
	case math.IsNaN(seconds):
		return "-"
	case math.IsInf(seconds, 1):
		return "live"
	case math.IsInf(seconds, -1):
		return "-live"
	}

	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	tenths := int64(math.Round(seconds * 10))
	h := tenths / 36000
	m := (tenths / 600) % 60
	s := float64(tenths%600) / 10
	if h > 0 {
		return fmt.Sprintf("%s%d:%02d:%04.1f", sign, h, m, s)
	}
	return fmt.Sprintf("%s%d:%04.1f", sign, m, s)
}
