package valve_controller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
)

const (
	DefaultStaleAfter  = 15 * time.Minute
	DefaultSyncTimeout = 5 * time.Second
)

// ClockSource reads wall-clock time from the RTC and keeps the RTC corrected
// from network time.
type ClockSource struct {
	rtc        hardware.RTC
	net        hardware.TimeSource
	loc        *time.Location
	mono       func() time.Time
	staleAfter time.Duration
	timeout    time.Duration
	logger     zerolog.Logger

	lastSync time.Time // monotonic reading of the last success
	synced   bool
}

func NewClockSource(rtc hardware.RTC, net hardware.TimeSource, loc *time.Location, mono func() time.Time, logger zerolog.Logger) *ClockSource {
	if loc == nil {
		loc = time.Local
	}
	return &ClockSource{
		rtc:        rtc,
		net:        net,
		loc:        loc,
		mono:       mono,
		staleAfter: DefaultStaleAfter,
		timeout:    DefaultSyncTimeout,
		logger:     logger,
	}
}

// SetStaleness overrides the resync threshold and the per-attempt timeout.
func (c *ClockSource) SetStaleness(staleAfter, timeout time.Duration) {
	if staleAfter > 0 {
		c.staleAfter = staleAfter
	}
	if timeout > 0 {
		c.timeout = timeout
	}
}

// Begin initializes the RTC. An error is fatal to the node. lostPower
// reports that the RTC time cannot be trusted until the next sync.
func (c *ClockSource) Begin() (lostPower bool, err error) {
	if err := c.rtc.Begin(); err != nil {
		return false, err
	}
	lostPower = c.rtc.LostPower()
	if lostPower {
		c.logger.Warn().Msg("RTC lost power, time will be set from NTP")
	}
	c.logger.Info().Str("rtc", c.ReadNow().Format("2006-01-02 15:04:05")).Msg("initial RTC time")
	return lostPower, nil
}

// ReadNow returns the RTC time in the node's zone.
func (c *ClockSource) ReadNow() time.Time {
	return c.rtc.Now().In(c.loc)
}

func (c *ClockSource) Location() *time.Location { return c.loc }

// Set adjusts the RTC directly.
func (c *ClockSource) Set(t time.Time) {
	c.rtc.Adjust(t)
	c.logger.Info().Str("rtc", c.ReadNow().Format("02/01/2006 15:04")).Msg("RTC set manually")
}

// TrySyncFromNetwork queries network time once. On success the RTC is
// overwritten; on failure it is left alone.
func (c *ClockSource) TrySyncFromNetwork(ctx context.Context, timeout time.Duration) bool {
	t, err := c.net.Query(ctx, timeout)
	metrics.ClockSyncs.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		c.logger.Warn().Err(err).Msg("network time unavailable")
		return false
	}
	c.rtc.Adjust(t)
	c.lastSync = c.mono()
	c.synced = true
	metrics.ClockLastSync.Set(float64(t.Unix()))
	c.logger.Info().Str("rtc", c.ReadNow().Format("2006-01-02 15:04:05")).Msg("RTC updated from NTP")
	return true
}

// Stale reports whether a resync is due.
func (c *ClockSource) Stale() bool {
	return !c.synced || c.mono().Sub(c.lastSync) > c.staleAfter
}

// PeriodicResync syncs only when the last success is older than the
// staleness threshold. It reports whether an attempt was made.
func (c *ClockSource) PeriodicResync(ctx context.Context) bool {
	if !c.Stale() {
		return false
	}
	c.logger.Debug().Msg("starting RTC sync")
	c.TrySyncFromNetwork(ctx, c.timeout)
	return true
}

// LastSync returns the monotonic time of the last success.
func (c *ClockSource) LastSync() (time.Time, bool) {
	return c.lastSync, c.synced
}
