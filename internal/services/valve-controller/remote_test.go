package valve_controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

func TestHTTPRemoteFetchIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/water-status", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":1,"valve_status":"on","duration":30}`))
	}))
	defer srv.Close()

	remote := NewHTTPRemote(RemoteConfig{BaseURL: srv.URL + "/", IntentPath: "api/water-status"})
	intent, err := remote.FetchIntent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, messages.IntentOn, intent.Status)
}

func TestHTTPRemoteNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	remote := NewHTTPRemote(RemoteConfig{BaseURL: srv.URL, SchedulePath: "/s"})
	_, err := remote.FetchSchedules(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPRemoteBreakerOpensPerEndpoint(t *testing.T) {
	var scheduleHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/s", func(w http.ResponseWriter, _ *http.Request) {
		scheduleHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/i", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OFF"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remote := NewHTTPRemote(RemoteConfig{
		BaseURL: srv.URL, IntentPath: "/i", SchedulePath: "/s",
		Failures: 2, OpenFor: time.Minute,
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := remote.FetchSchedules(ctx)
		require.Error(t, err)
	}
	_, err := remote.FetchSchedules(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), scheduleHits.Load())

	intent, err := remote.FetchIntent(ctx)
	require.NoError(t, err)
	assert.Equal(t, messages.IntentOff, intent.Status)
}

func TestHTTPRemoteMalformedIntentDoesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	r := newRigWith(t, defaultSeed(), NewHTTPRemote(RemoteConfig{BaseURL: srv.URL, IntentPath: "/i"}))
	r.engine.reconciler.PollIntent(context.Background())
	assert.False(t, r.engine.valve.IsWatering())
	assert.Zero(t, r.relay().Writes())
}

func TestReconcileSchedules(t *testing.T) {
	base := entities.DefaultConfig()
	entry := func(tm string, active bool, mins int) messages.RemoteSchedule {
		return messages.RemoteSchedule{Time: tm, Active: active, DurationMinutes: mins}
	}

	t.Run("empty list disables every slot", func(t *testing.T) {
		next, changed, err := ReconcileSchedules(base, nil)
		require.NoError(t, err)
		assert.True(t, changed)
		for _, s := range next.Schedules {
			assert.False(t, s.Enabled)
		}
		assert.Equal(t, base.DurationSeconds, next.DurationSeconds)
	})

	t.Run("extra entries ignored", func(t *testing.T) {
		list := []messages.RemoteSchedule{
			entry("05:00", true, 1), entry("06:00", true, 1), entry("07:00", true, 1),
			entry("bogus", true, 9),
		}
		next, changed, err := ReconcileSchedules(base, list)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, entities.ScheduleEntry{Hour: 7, Minute: 0, Enabled: true}, next.Schedules[2])
		assert.Equal(t, 60, next.DurationSeconds)
	})

	t.Run("identical list is no change", func(t *testing.T) {
		list := []messages.RemoteSchedule{
			entry("06:00", true, 0), entry("18:00", true, 0), entry("12:00", false, 0),
		}
		cfg := base
		cfg.DurationSeconds = 0
		_, changed, err := ReconcileSchedules(cfg, list)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("duration over a day leaves config", func(t *testing.T) {
		list := []messages.RemoteSchedule{entry("06:00", true, 5), entry("07:00", true, 200000000)}
		next, changed, err := ReconcileSchedules(base, list)
		assert.ErrorIs(t, err, messages.ErrMalformedPayload)
		assert.False(t, changed)
		assert.Equal(t, base, next)
	})

	t.Run("bad entry leaves config", func(t *testing.T) {
		next, changed, err := ReconcileSchedules(base, []messages.RemoteSchedule{entry("6:00", true, 5)})
		assert.ErrorIs(t, err, messages.ErrMalformedPayload)
		assert.False(t, changed)
		assert.Equal(t, base, next)
	})
}

func TestScheduleSyncSaveFailureKeepsChange(t *testing.T) {
	r := newRig(t, defaultSeed())
	r.store.FailSaves(assert.AnError)
	r.remote.list = []messages.RemoteSchedule{{Time: "09:15", Active: true, DurationMinutes: 2}}

	changed, err := r.engine.reconciler.SyncSchedules(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, changed)
	assert.Equal(t, entities.ScheduleEntry{Hour: 9, Minute: 15, Enabled: true}, r.engine.state.Config().Schedules[0])
	assert.Equal(t, 120, r.engine.state.Config().DurationSeconds)
}
