// Package units parses and formats the human-readable quantities used in
// player configuration: byte sizes (binary multiples) and bit rates (SI
// multiples).
//
// Byte sizes: "64MB" = 64 * 1024^2, "1.5 GiB", "512000" (bytes).
// Bit rates:  "2.5Mbps" = 2,500,000 bit/s, "800k", "1000000" (bit/s).
package units

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// Rate is a bit rate in bits per second.
type Rate int64

const (
	BPS  Rate = 1
	KBPS Rate = 1000
	MBPS Rate = 1000 * KBPS
	GBPS Rate = 1000 * MBPS
)

var sizeUnits = map[string]Size{
	"": B, "b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var rateUnits = map[string]Rate{
	"": BPS, "bps": BPS, "b/s": BPS,
	"k": KBPS, "kbps": KBPS, "kb/s": KBPS, "kbit": KBPS, "kbit/s": KBPS,
	"m": MBPS, "mbps": MBPS, "mb/s": MBPS, "mbit": MBPS, "mbit/s": MBPS,
	"g": GBPS, "gbps": GBPS, "gb/s": GBPS, "gbit": GBPS, "gbit/s": GBPS,
}

// quantityPattern matches a number followed by an optional unit.
var quantityPattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z/]*)\s*$`)

func split(kind, s string) (float64, string, error) {
	if s == "" {
		return 0, "", fmt.Errorf("%s: empty string", kind)
	}
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("%s: invalid format %q", kind, s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("%s: invalid number %q: %w", kind, m[1], err)
	}
	return value, strings.ToLower(m[2]), nil
}

// ParseSize parses a byte size. A bare number is bytes.
func ParseSize(s string) (Size, error) {
	value, unit, err := split("size", s)
	if err != nil {
		return 0, err
	}
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("size: unknown unit %q", unit)
	}
	return Size(value * float64(mult)), nil
}

// ParseRate parses a bit rate. A bare number is bits per second.
func ParseRate(s string) (Rate, error) {
	value, unit, err := split("rate", s)
	if err != nil {
		return 0, err
	}
	mult, ok := rateUnits[unit]
	if !ok {
		return 0, fmt.Errorf("rate: unknown unit %q", unit)
	}
	return Rate(value * float64(mult)), nil
}

// FormatSize renders s with the largest unit that keeps the value >= 1.
func FormatSize(s Size) string {
	switch {
	case s == 0:
		return "0B"
	case s < 0:
		return "-" + FormatSize(-s)
	case s >= TB:
		return trim(float64(s)/float64(TB), "TB")
	case s >= GB:
		return trim(float64(s)/float64(GB), "GB")
	case s >= MB:
		return trim(float64(s)/float64(MB), "MB")
	case s >= KB:
		return trim(float64(s)/float64(KB), "KB")
	default:
		return fmt.Sprintf("%dB", s)
	}
}

// FormatRate renders r as bps, kbps, Mbps or Gbps.
func FormatRate(r Rate) string {
	switch {
	case r == 0:
		return "0bps"
	case r < 0:
		return "-" + FormatRate(-r)
	case r >= GBPS:
		return trim(float64(r)/float64(GBPS), "Gbps")
	case r >= MBPS:
		return trim(float64(r)/float64(MBPS), "Mbps")
	case r >= KBPS:
		return trim(float64(r)/float64(KBPS), "kbps")
	default:
		return fmt.Sprintf("%dbps", r)
	}
}

func trim(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	return strings.TrimRight(formatted, ".") + unit
}

func (s Size) String() string { return FormatSize(s) }
func (r Rate) String() string { return FormatRate(r) }
