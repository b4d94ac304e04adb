// Package duration parses and formats the durations found in player
// configuration and manifests.
//
// Parse extends time.ParseDuration with day, week, month and year units,
// fractional values on any unit and optional spaces:
//
//	"1d12h", "2 weeks", "1.5s", "3 days 4 hours", "-30s"
//
// ParseISO8601 reads xs:duration values as used by DASH manifests:
//
//	"PT1M30.5S", "P1DT2H"
package duration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
	// Month represents 30 days (approximate).
	Month = 30 * Day
	// Year represents 365 days (approximate).
	Year = 365 * Day
)

// ErrEmpty is returned by Parse for blank input.
var ErrEmpty = errors.New("duration: empty string")

var units = map[string]time.Duration{
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,

	"us": time.Microsecond, "µs": time.Microsecond, "micro": time.Microsecond, "micros": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,

	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,

	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,

	"d": Day, "day": Day, "days": Day,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
}

// Parse parses a human-readable duration. Unit names are case-insensitive
// and every number needs a unit, except a lone "0".
func Parse(s string) (time.Duration, error) {
	in := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = strings.TrimSpace(s[1:])
	case '+':
		s = strings.TrimSpace(s[1:])
	}
	if s == "0" {
		return 0, nil
	}

	var total float64
	for s != "" {
		i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
		if i == 0 {
			return 0, fmt.Errorf("duration: expected number in %q", in)
		}
		if i < 0 {
			return 0, fmt.Errorf("duration: missing unit in %q", in)
		}
		value, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid number in %q", in)
		}
		s = strings.TrimLeft(s[i:], " \t")

		j := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && r != 'µ' })
		if j < 0 {
			j = len(s)
		}
		unit, ok := units[strings.ToLower(s[:j])]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", s[:j], in)
		}
		s = strings.TrimLeft(s[j:], " \t,")

		total += value * float64(unit)
		if total > math.MaxInt64 {
			return 0, fmt.Errorf("duration: %q overflows", in)
		}
	}

	d := time.Duration(math.Round(total))
	if negative {
		d = -d
	}
	return d, nil
}

// formatUnits are used by Format, largest first.
var formatUnits = []struct {
	suffix string
	size   time.Duration
}{
	{"y", Year}, {"mo", Month}, {"w", Week}, {"d", Day},
	{"h", time.Hour}, {"m", time.Minute}, {"s", time.Second},
	{"ms", time.Millisecond}, {"µs", time.Microsecond}, {"ns", time.Nanosecond},
}

// Format renders d with the largest units first, omitting zero components:
// 36h becomes "1d12h", 90s becomes "1m30s". Parse accepts the output.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range formatUnits {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			d -= n * u.size
		}
	}
	return b.String()
}

// ParseISO8601 parses an xs:duration such as "PT1M30.5S" or "P1DT2H".
// Years and months count as 365 and 30 days. Empty input is zero.
func ParseISO8601(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, nil
	}

	negative := strings.HasPrefix(in, "-")
	rest, ok := strings.CutPrefix(strings.TrimPrefix(in, "-"), "P")
	if !ok || rest == "" || strings.HasSuffix(rest, "T") {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	datePart, timePart, _ := strings.Cut(rest, "T")
	var total float64
	// Designators must appear in this order within each part.
	for _, part := range []struct {
		text   string
		order  string
		values map[byte]time.Duration
	}{
		{datePart, "YMWD", map[byte]time.Duration{'Y': Year, 'M': Month, 'W': Week, 'D': Day}},
		{timePart, "HMS", map[byte]time.Duration{'H': time.Hour, 'M': time.Minute, 'S': time.Second}},
	} {
		text, last := part.text, -1
		for text != "" {
			i := strings.IndexAny(text, part.order)
			if i <= 0 {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
			}
			pos := strings.IndexByte(part.order, text[i])
			if pos <= last {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
			}
			last = pos
			value, err := strconv.ParseFloat(strings.Replace(text[:i], ",", ".", 1), 64)
			if err != nil || value < 0 {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
			}
			total += value * float64(part.values[text[i]])
			text = text[i+1:]
		}
	}

	d := time.Duration(math.Round(total))
	if negative {
		d = -d
	}
	return d, nil
}
