package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// ErrNoClock is returned by Begin when the clock device is not usable.
var ErrNoClock = errors.New("real-time clock not found")

// RTC is a battery-backed real-time clock.
type RTC interface {
	// Begin initializes the device; an error is fatal to the node.
	Begin() error
	Now() time.Time
	Adjust(t time.Time)
	// LostPower reports whether the device lost its time since last set.
	LostPower() bool
}

// SystemRTC is an RTC on top of the host clock plus an offset set by Adjust.
type SystemRTC struct {
	mu     sync.RWMutex
	base   func() time.Time
	offset time.Duration
}

// NewSystemRTC returns an RTC reading time.Now.
func NewSystemRTC() *SystemRTC {
	return &SystemRTC{base: time.Now}
}

// Begin fails when the host clock has no usable reading.
func (r *SystemRTC) Begin() error {
	if r.base().IsZero() {
		return ErrNoClock
	}
	return nil
}

func (r *SystemRTC) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.base().Add(r.offset)
}

func (r *SystemRTC) Adjust(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = t.Sub(r.base())
}

// LostPower reports a reading before 2000, which a set clock never shows.
func (r *SystemRTC) LostPower() bool {
	return r.Now().Year() < 2000
}

// TimeSource reads the current time from the network.
type TimeSource interface {
	Query(ctx context.Context, timeout time.Duration) (time.Time, error)
}

// NTPSource queries an NTP server.
type NTPSource struct {
	Server string
}

// Query returns the server's time corrected for round trip delay.
func (s NTPSource) Query(ctx context.Context, timeout time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("ntp response from %s: %w", s.Server, err)
	}
	return time.Now().Add(resp.ClockOffset), nil
}
