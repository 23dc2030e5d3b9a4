package valve_controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is wrapped by every ParseManualTime failure.
var ErrInvalidTime = errors.New("invalid time")

// ManualTimeLayout is the accepted manual time format.
const ManualTimeLayout = "DD/MM/YYYY HH:MM"

// ParseManualTime parses "DD/MM/YYYY HH:MM" in loc. Ranges are checked
// field by field (year >= 2000, month 1-12, day 1-31, hour 0-23, minute
// 0-59); a day past the end of the month rolls over like the RTC does.
func ParseManualTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(ManualTimeLayout) || s[2] != '/' || s[5] != '/' || s[10] != ' ' || s[13] != ':' {
		return time.Time{}, fmt.Errorf("%w: %q, use %s (e.g. 02/12/2025 06:55)", ErrInvalidTime, s, ManualTimeLayout)
	}

	num := func(from, to int) (int, error) {
		part := s[from:to]
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidTime, part)
			}
		}
		return strconv.Atoi(part)
	}
	var (
		fields [5]int
		spans  = [5][2]int{{0, 2}, {3, 5}, {6, 10}, {11, 13}, {14, 16}}
	)
	for i, sp := range spans {
		n, err := num(sp[0], sp[1])
		if err != nil {
			return time.Time{}, err
		}
		fields[i] = n
	}
	day, month, year, hour, minute := fields[0], fields[1], fields[2], fields[3], fields[4]

	if year < 2000 || month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, s)
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), nil
}
