package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedPayload is wrapped by every decode failure of a remote payload.
var ErrMalformedPayload = errors.New("malformed remote payload")

// DefaultDurationMinutes applies when a schedule omits duration_minutes.
const DefaultDurationMinutes = 30

// MaxDurationMinutes is the longest duration_minutes accepted (one day).
const MaxDurationMinutes = 24 * 60

// IntentStatus is the valve state requested by the remote endpoint.
type IntentStatus string

const (
	IntentNone IntentStatus = ""
	IntentOn   IntentStatus = "ON"
	IntentOff  IntentStatus = "OFF"
)

// ValveIntent is the body of the water-status endpoint, e.g.
// {"id":1,"valve_status":"ON","duration":30,...}.
type ValveIntent struct {
	Status IntentStatus `json:"valve_status"`
}

// UnmarshalJSON accepts "valve_status" or "status"; any other value decodes
// to IntentNone rather than failing.
func (v *ValveIntent) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	raw, ok := m["valve_status"].(string)
	if !ok {
		raw, _ = m["status"].(string)
	}
	switch IntentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case IntentOn:
		v.Status = IntentOn
	case IntentOff:
		v.Status = IntentOff
	default:
		v.Status = IntentNone
	}
	return nil
}

// RemoteSchedule is one entry of the schedules endpoint.
type RemoteSchedule struct {
	Type            string `json:"schedule_type"` // informational only
	Time            string `json:"schedule_time"` // "HH:MM" (seconds suffix tolerated)
	Active          bool   `json:"is_active"`
	DurationMinutes int    `json:"duration_minutes"`
}

// UnmarshalJSON tolerates is_active as bool, 0/1 or their string forms and
// duration_minutes as number or string. schedule_time and is_active are
// required.
func (r *RemoteSchedule) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if t, ok := m["schedule_type"].(string); ok {
		r.Type = t
	}

	t, ok := m["schedule_time"].(string)
	if !ok {
		return fmt.Errorf("%w: schedule_time missing", ErrMalformedPayload)
	}
	r.Time = strings.TrimSpace(t)

	active, err := toActive(m["is_active"])
	if err != nil {
		return err
	}
	r.Active = active

	r.DurationMinutes = DefaultDurationMinutes
	if dv, ok := m["duration_minutes"]; ok && dv != nil {
		switch x := dv.(type) {
		case float64:
			if math.IsNaN(x) || x < 0 || x > MaxDurationMinutes {
				return fmt.Errorf("%w: duration_minutes %v out of range", ErrMalformedPayload, x)
			}
			r.DurationMinutes = int(math.Round(x))
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return fmt.Errorf("%w: duration_minutes %q", ErrMalformedPayload, x)
			}
			r.DurationMinutes = n
		default:
			return fmt.Errorf("%w: duration_minutes has type %T", ErrMalformedPayload, dv)
		}
	}
	if r.DurationMinutes < 0 || r.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: duration_minutes %d out of range", ErrMalformedPayload, r.DurationMinutes)
	}
	return nil
}

func toActive(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x == 1, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return false, fmt.Errorf("%w: is_active %q", ErrMalformedPayload, x)
	case nil:
		return false, fmt.Errorf("%w: is_active missing", ErrMalformedPayload)
	default:
		return false, fmt.Errorf("%w: is_active has type %T", ErrMalformedPayload, v)
	}
}

// Clock parses the "HH:MM" prefix of Time.
func (r RemoteSchedule) Clock() (hour, minute int, err error) {
	s := r.Time
	if len(s) < 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("%w: schedule_time %q", ErrMalformedPayload, s)
	}
	digits := [4]byte{s[0], s[1], s[3], s[4]}
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, 0, fmt.Errorf("%w: schedule_time %q", ErrMalformedPayload, s)
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: schedule_time %q out of range", ErrMalformedPayload, s)
	}
	return hour, minute, nil
}

// DecodeSchedules decodes the schedules endpoint body, which must be a JSON
// array.
func DecodeSchedules(body []byte) ([]RemoteSchedule, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: body is not an array", ErrMalformedPayload)
	}
	var list []RemoteSchedule
	if err := json.Unmarshal(body, &list); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return list, nil
}

// DecodeIntent decodes the water-status endpoint body.
func DecodeIntent(body []byte) (ValveIntent, error) {
	var v ValveIntent
	if err := json.Unmarshal(body, &v); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return ValveIntent{}, err
		}
		return ValveIntent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}
