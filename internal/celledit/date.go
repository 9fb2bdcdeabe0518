package celledit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateDigits = 8

// digitsOnly strips everything but ASCII digits and caps the result at max
// characters.
func digitsOnly(raw string, max int) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == max {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatDateInput renders partial date input as the user types it:
// "2024031" becomes "2024-03-1".
func FormatDateInput(raw string) string {
	d := digitsOnly(raw, dateDigits)
	switch {
	case len(d) > 6:
		return d[:4] + "-" + d[4:6] + "-" + d[6:]
	case len(d) > 4:
		return d[:4] + "-" + d[4:]
	default:
		return d
	}
}

// ParseDate canonicalizes a complete date to YYYY-MM-DD. Empty input clears
// the date. Incomplete input and out-of-range months or days are errors.
func ParseDate(raw string) (string, error) {
	d := digitsOnly(raw, dateDigits)
	if d == "" {
		return "", nil
	}
	if len(d) != dateDigits {
		return "", fmt.Errorf("incomplete date %q", raw)
	}
	y, _ := strconv.Atoi(d[:4])
	m, _ := strconv.Atoi(d[4:6])
	day, _ := strconv.Atoi(d[6:])
	if m < 1 || m > 12 {
		return "", fmt.Errorf("month out of range in %q", raw)
	}
	if day < 1 || day > daysIn(y, time.Month(m)) {
		return "", fmt.Errorf("day out of range in %q", raw)
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, day), nil
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
